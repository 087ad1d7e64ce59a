package features

import (
	"FlowSpectra/internal/engine/flowstate"
	"FlowSpectra/internal/model"
)

// Compute derives the feature vector of a closed flow. It only reads the
// snapshot, so calling it twice on the same snapshot yields identical vectors.
// Every time-valued field is in seconds and every empty statistic is 0.
func Compute(s flowstate.Snapshot) *model.FeatureVector {
	v := make([]float64, NumFields)

	duration := s.LastSeen.Sub(s.FirstSeen).Seconds()
	packets := float64(s.FwdPackets + s.BwdPackets)
	bytes := float64(s.FwdBytes + s.BwdBytes)

	v[DstPort] = float64(s.Backward.Port)
	v[Protocol] = float64(s.Proto)
	v[FlowDuration] = duration
	v[TotFwdPkts] = float64(s.FwdPackets)
	v[TotBwdPkts] = float64(s.BwdPackets)
	v[TotLenFwdPkts] = float64(s.FwdBytes)
	v[TotLenBwdPkts] = float64(s.BwdBytes)

	v[FwdPktLenMax] = s.FwdPktLen.Max()
	v[FwdPktLenMin] = s.FwdPktLen.Min()
	v[FwdPktLenMean] = s.FwdPktLen.Mean()
	v[FwdPktLenStd] = s.FwdPktLen.Std()
	v[FwdPktLenVar] = s.FwdPktLen.Variance()
	v[BwdPktLenMax] = s.BwdPktLen.Max()
	v[BwdPktLenMin] = s.BwdPktLen.Min()
	v[BwdPktLenMean] = s.BwdPktLen.Mean()
	v[BwdPktLenStd] = s.BwdPktLen.Std()
	v[BwdPktLenVar] = s.BwdPktLen.Variance()

	v[FlowBytsPerSec] = rate(bytes, duration)
	v[FlowPktsPerSec] = rate(packets, duration)

	v[FlowIATMean] = s.FlowIAT.Mean()
	v[FlowIATStd] = s.FlowIAT.Std()
	v[FlowIATMax] = s.FlowIAT.Max()
	v[FlowIATMin] = s.FlowIAT.Min()
	v[FlowIATTot] = s.FlowIAT.Sum()
	v[FwdIATTot] = s.FwdIAT.Sum()
	v[FwdIATMean] = s.FwdIAT.Mean()
	v[FwdIATStd] = s.FwdIAT.Std()
	v[FwdIATMax] = s.FwdIAT.Max()
	v[FwdIATMin] = s.FwdIAT.Min()
	v[BwdIATTot] = s.BwdIAT.Sum()
	v[BwdIATMean] = s.BwdIAT.Mean()
	v[BwdIATStd] = s.BwdIAT.Std()
	v[BwdIATMax] = s.BwdIAT.Max()
	v[BwdIATMin] = s.BwdIAT.Min()

	v[FwdPSHFlags] = float64(s.FwdPSH)
	v[FwdHeaderLen] = float64(s.FwdHeaderBytes)
	v[BwdHeaderLen] = float64(s.BwdHeaderBytes)
	v[FwdPktsPerSec] = rate(float64(s.FwdPackets), duration)
	v[BwdPktsPerSec] = rate(float64(s.BwdPackets), duration)

	v[PktLenMin] = s.PktLen.Min()
	v[PktLenMax] = s.PktLen.Max()
	v[PktLenMean] = s.PktLen.Mean()
	v[PktLenStd] = s.PktLen.Std()
	v[PktLenVar] = s.PktLen.Variance()

	v[FINFlagCnt] = float64(s.Flags.FIN)
	v[SYNFlagCnt] = float64(s.Flags.SYN)
	v[RSTFlagCnt] = float64(s.Flags.RST)
	v[PSHFlagCnt] = float64(s.Flags.PSH)
	v[ACKFlagCnt] = float64(s.Flags.ACK)
	v[URGFlagCnt] = float64(s.Flags.URG)
	v[ECEFlagCnt] = float64(s.Flags.ECE)

	v[DownUpRatio] = ratio(float64(s.BwdBytes), float64(s.FwdBytes))
	v[PktSizeAvg] = ratio(bytes, packets)
	v[FwdSegSizeAvg] = ratio(float64(s.FwdBytes), float64(s.FwdPackets))
	v[BwdSegSizeAvg] = ratio(float64(s.BwdBytes), float64(s.BwdPackets))

	// One subflow per flow: the subflow fields mirror the totals.
	v[SubflowFwdPkts] = v[TotFwdPkts]
	v[SubflowFwdByts] = v[TotLenFwdPkts]
	v[SubflowBwdPkts] = v[TotBwdPkts]
	v[SubflowBwdByts] = v[TotLenBwdPkts]

	v[InitFwdWinByts] = float64(s.InitFwdWindow)
	v[InitBwdWinByts] = float64(s.InitBwdWindow)
	v[FwdActDataPkts] = float64(s.FwdDataPackets)
	v[FwdSegSizeMin] = s.FwdPktLen.Min()

	v[ActiveMean] = s.Active.Mean()
	v[ActiveStd] = s.Active.Std()
	v[ActiveMax] = s.Active.Max()
	v[ActiveMin] = s.Active.Min()
	v[IdleMean] = s.Idle.Mean()
	v[IdleStd] = s.Idle.Std()
	v[IdleMax] = s.Idle.Max()
	v[IdleMin] = s.Idle.Min()

	return &model.FeatureVector{
		SchemaVersion: SchemaVersion,
		FlowID:        s.ID,
		Forward:       s.Forward,
		Backward:      s.Backward,
		Protocol:      s.Proto,
		Start:         s.FirstSeen,
		End:           s.LastSeen,
		EndReason:     s.EndReason,
		Partial:       s.EndReason.Partial(),
		Names:         fieldNames,
		Values:        v,
	}
}

func rate(n, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return n / seconds
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

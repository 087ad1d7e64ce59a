// Package features turns a closed flow into the fixed, versioned feature
// vector consumed by the downstream classifier.
package features

// SchemaVersion must be bumped whenever a field is added, removed or moved.
const SchemaVersion uint16 = 1

// Field indexes. The order here is the order on the wire.
const (
	DstPort = iota
	Protocol
	FlowDuration
	TotFwdPkts
	TotBwdPkts
	TotLenFwdPkts
	TotLenBwdPkts
	FwdPktLenMax
	FwdPktLenMin
	FwdPktLenMean
	FwdPktLenStd
	FwdPktLenVar
	BwdPktLenMax
	BwdPktLenMin
	BwdPktLenMean
	BwdPktLenStd
	BwdPktLenVar
	FlowBytsPerSec
	FlowPktsPerSec
	FlowIATMean
	FlowIATStd
	FlowIATMax
	FlowIATMin
	FlowIATTot
	FwdIATTot
	FwdIATMean
	FwdIATStd
	FwdIATMax
	FwdIATMin
	BwdIATTot
	BwdIATMean
	BwdIATStd
	BwdIATMax
	BwdIATMin
	FwdPSHFlags
	FwdHeaderLen
	BwdHeaderLen
	FwdPktsPerSec
	BwdPktsPerSec
	PktLenMin
	PktLenMax
	PktLenMean
	PktLenStd
	PktLenVar
	FINFlagCnt
	SYNFlagCnt
	RSTFlagCnt
	PSHFlagCnt
	ACKFlagCnt
	URGFlagCnt
	ECEFlagCnt
	DownUpRatio
	PktSizeAvg
	FwdSegSizeAvg
	BwdSegSizeAvg
	SubflowFwdPkts
	SubflowFwdByts
	SubflowBwdPkts
	SubflowBwdByts
	InitFwdWinByts
	InitBwdWinByts
	FwdActDataPkts
	FwdSegSizeMin
	ActiveMean
	ActiveStd
	ActiveMax
	ActiveMin
	IdleMean
	IdleStd
	IdleMax
	IdleMin

	NumFields // Not a field. Just the total number of fields.
)

var names = [NumFields]string{
	DstPort:        "Dst Port",
	Protocol:       "Protocol",
	FlowDuration:   "Flow Duration",
	TotFwdPkts:     "Tot Fwd Pkts",
	TotBwdPkts:     "Tot Bwd Pkts",
	TotLenFwdPkts:  "TotLen Fwd Pkts",
	TotLenBwdPkts:  "TotLen Bwd Pkts",
	FwdPktLenMax:   "Fwd Pkt Len Max",
	FwdPktLenMin:   "Fwd Pkt Len Min",
	FwdPktLenMean:  "Fwd Pkt Len Mean",
	FwdPktLenStd:   "Fwd Pkt Len Std",
	FwdPktLenVar:   "Fwd Pkt Len Var",
	BwdPktLenMax:   "Bwd Pkt Len Max",
	BwdPktLenMin:   "Bwd Pkt Len Min",
	BwdPktLenMean:  "Bwd Pkt Len Mean",
	BwdPktLenStd:   "Bwd Pkt Len Std",
	BwdPktLenVar:   "Bwd Pkt Len Var",
	FlowBytsPerSec: "Flow Byts/s",
	FlowPktsPerSec: "Flow Pkts/s",
	FlowIATMean:    "Flow IAT Mean",
	FlowIATStd:     "Flow IAT Std",
	FlowIATMax:     "Flow IAT Max",
	FlowIATMin:     "Flow IAT Min",
	FlowIATTot:     "Flow IAT Tot",
	FwdIATTot:      "Fwd IAT Tot",
	FwdIATMean:     "Fwd IAT Mean",
	FwdIATStd:      "Fwd IAT Std",
	FwdIATMax:      "Fwd IAT Max",
	FwdIATMin:      "Fwd IAT Min",
	BwdIATTot:      "Bwd IAT Tot",
	BwdIATMean:     "Bwd IAT Mean",
	BwdIATStd:      "Bwd IAT Std",
	BwdIATMax:      "Bwd IAT Max",
	BwdIATMin:      "Bwd IAT Min",
	FwdPSHFlags:    "Fwd PSH Flags",
	FwdHeaderLen:   "Fwd Header Len",
	BwdHeaderLen:   "Bwd Header Len",
	FwdPktsPerSec:  "Fwd Pkts/s",
	BwdPktsPerSec:  "Bwd Pkts/s",
	PktLenMin:      "Pkt Len Min",
	PktLenMax:      "Pkt Len Max",
	PktLenMean:     "Pkt Len Mean",
	PktLenStd:      "Pkt Len Std",
	PktLenVar:      "Pkt Len Var",
	FINFlagCnt:     "FIN Flag Cnt",
	SYNFlagCnt:     "SYN Flag Cnt",
	RSTFlagCnt:     "RST Flag Cnt",
	PSHFlagCnt:     "PSH Flag Cnt",
	ACKFlagCnt:     "ACK Flag Cnt",
	URGFlagCnt:     "URG Flag Cnt",
	ECEFlagCnt:     "ECE Flag Cnt",
	DownUpRatio:    "Down/Up Ratio",
	PktSizeAvg:     "Pkt Size Avg",
	FwdSegSizeAvg:  "Fwd Seg Size Avg",
	BwdSegSizeAvg:  "Bwd Seg Size Avg",
	SubflowFwdPkts: "Subflow Fwd Pkts",
	SubflowFwdByts: "Subflow Fwd Byts",
	SubflowBwdPkts: "Subflow Bwd Pkts",
	SubflowBwdByts: "Subflow Bwd Byts",
	InitFwdWinByts: "Init Fwd Win Byts",
	InitBwdWinByts: "Init Bwd Win Byts",
	FwdActDataPkts: "Fwd Act Data Pkts",
	FwdSegSizeMin:  "Fwd Seg Size Min",
	ActiveMean:     "Active Mean",
	ActiveStd:      "Active Std",
	ActiveMax:      "Active Max",
	ActiveMin:      "Active Min",
	IdleMean:       "Idle Mean",
	IdleStd:        "Idle Std",
	IdleMax:        "Idle Max",
	IdleMin:        "Idle Min",
}

// fieldNames is shared by every emitted vector.
var fieldNames = names[:]

// Names returns a copy of the ordered field names.
func Names() []string {
	out := make([]string, NumFields)
	copy(out, fieldNames)
	return out
}

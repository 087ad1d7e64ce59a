package pcap

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const (
	recordSnapLen     = 1600
	defaultRecordSize = 10000
)

type recordedFrame struct {
	ci   gopacket.CaptureInfo
	data []byte
}

// Recorder writes raw frames to a pcap file on a single goroutine so the file
// keeps capture order. Record never blocks; frames are dropped when the
// buffer is full.
type Recorder struct {
	file    *os.File
	buf     *bufio.Writer
	writer  *pcapgo.Writer
	frames  chan recordedFrame
	wg      sync.WaitGroup
	written atomic.Uint64
	dropped atomic.Uint64
}

// NewRecorder creates a timestamped .pcap file under dir and starts writing.
func NewRecorder(dir string, linkType layers.LinkType, bufferSize int) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = defaultRecordSize
	}
	fileName := fmt.Sprintf("%s.pcap", time.Now().Format("2006-01-02_15-04-05"))
	file, err := os.OpenFile(filepath.Join(dir, fileName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		file:   file,
		buf:    bufio.NewWriter(file),
		frames: make(chan recordedFrame, bufferSize),
	}
	r.writer = pcapgo.NewWriter(r.buf)
	if err := r.writer.WriteFileHeader(recordSnapLen, linkType); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}

	r.wg.Add(1)
	go r.run()
	log.Printf("Recorder: writing frames to %s", file.Name())
	return r, nil
}

// Path returns the file being written.
func (r *Recorder) Path() string {
	return r.file.Name()
}

// Record queues one frame. data is copied.
func (r *Recorder) Record(ci gopacket.CaptureInfo, data []byte) {
	if len(data) > recordSnapLen {
		data = data[:recordSnapLen]
	}
	ci.CaptureLength = len(data)
	if ci.Length < ci.CaptureLength {
		ci.Length = ci.CaptureLength
	}
	f := recordedFrame{ci: ci, data: append([]byte(nil), data...)}
	select {
	case r.frames <- f:
	default:
		if r.dropped.Add(1) == 1 {
			log.Println("Recorder: buffer is full, dropping frames.")
		}
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for f := range r.frames {
		if err := r.writer.WritePacket(f.ci, f.data); err != nil {
			log.Printf("Recorder: error writing frame: %v", err)
			continue
		}
		r.written.Add(1)
	}
}

// Counts returns the number of frames written and dropped.
func (r *Recorder) Counts() (written, dropped uint64) {
	return r.written.Load(), r.dropped.Load()
}

// Close flushes queued frames and closes the file. Record must not be called
// afterwards.
func (r *Recorder) Close() error {
	close(r.frames)
	r.wg.Wait()
	if err := r.buf.Flush(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to flush pcap file: %w", err)
	}
	written, dropped := r.Counts()
	log.Printf("Recorder: closed %s, %d frames written, %d dropped", r.file.Name(), written, dropped)
	return r.file.Close()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Creation modes for BlobsCreated
const (
	ModeMetadata = "metadata"
	ModeSingle   = "single"
	ModeChunked  = "chunked"
	ModeStream   = "stream"
)

// Transfer holds the counters of the blob transfer path.
// A nil *Transfer records nothing.
type Transfer struct {
	ChunksSent      prometheus.Counter
	BytesUploaded   prometheus.Counter
	BytesDownloaded prometheus.Counter
	BlobsCreated    *prometheus.CounterVec
	TasksSubmitted  prometheus.Counter
}

// New creates the transfer counters and registers them with reg (nil skips registration)
func New(reg prometheus.Registerer) (*Transfer, error) {
	t := &Transfer{
		ChunksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskplane",
			Name:      "chunks_sent_total",
			Help:      "Total number of upload chunks sent",
		}),
		BytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskplane",
			Name:      "bytes_uploaded_total",
			Help:      "Total number of blob bytes uploaded",
		}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskplane",
			Name:      "bytes_downloaded_total",
			Help:      "Total number of blob bytes downloaded",
		}),
		BlobsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskplane",
				Name:      "blobs_created_total",
				Help:      "Total number of blobs created, by creation mode",
			},
			[]string{"mode"},
		),
		TasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskplane",
			Name:      "tasks_submitted_total",
			Help:      "Total number of tasks submitted",
		}),
	}

	if reg == nil {
		return t, nil
	}

	for _, c := range []prometheus.Collector{
		t.ChunksSent,
		t.BytesUploaded,
		t.BytesDownloaded,
		t.BlobsCreated,
		t.TasksSubmitted,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// RecordChunk counts one sent chunk of n bytes
func (t *Transfer) RecordChunk(n int) {
	if t == nil {
		return
	}
	t.ChunksSent.Inc()
	t.BytesUploaded.Add(float64(n))
}

// RecordUpload counts bytes sent outside of chunked streams
func (t *Transfer) RecordUpload(n int) {
	if t == nil {
		return
	}
	t.BytesUploaded.Add(float64(n))
}

// RecordDownload counts received bytes
func (t *Transfer) RecordDownload(n int) {
	if t == nil {
		return
	}
	t.BytesDownloaded.Add(float64(n))
}

// RecordBlobsCreated counts n blobs created in mode
func (t *Transfer) RecordBlobsCreated(mode string, n int) {
	if t == nil || n == 0 {
		return
	}
	t.BlobsCreated.WithLabelValues(mode).Add(float64(n))
}

// RecordTasksSubmitted counts n submitted tasks
func (t *Transfer) RecordTasksSubmitted(n int) {
	if t == nil {
		return
	}
	t.TasksSubmitted.Add(float64(n))
}

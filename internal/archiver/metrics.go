package archiver

import "github.com/prometheus/client_golang/prometheus"

var (
	// archiveBatches counts completed archival runs that moved messages.
	archiveBatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_batches_total",
		Help: "Total number of completed archival runs that moved messages.",
	})

	// archivedMessages counts messages moved from the live window to the
	// archive.
	archivedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_messages_total",
		Help: "Total number of messages moved to the archive.",
	})

	// archiveFailures counts archival runs that failed after retries,
	// including live-window trims that failed after a successful archive
	// write.
	archiveFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archiver_failures_total",
		Help: "Total number of failed archival runs.",
	})
)

func init() {
	prometheus.MustRegister(archiveBatches, archivedMessages, archiveFailures)
}

// Package metrics exposes the repository's ambient Prometheus
// counters: revlog reads/writes, transaction commits/aborts, and
// changegroup bytes transferred. None of this is part of spec.md's
// core semantics; it's the observability layer SPEC_FULL.md's AMBIENT
// STACK calls for alongside it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is this package's own registry rather than the global
// default one, so a process embedding this module as a library isn't
// forced to share metric namespaces with its host.
var Registry = prometheus.NewRegistry()

var (
	// RevlogReads counts Revision/RevisionByNode calls, labeled by
	// revlog tag (changelog/manifest/filelog path).
	RevlogReads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "revlog",
		Name:      "reads_total",
		Help:      "Number of revlog revision reads.",
	}, []string{"revlog"})

	// RevlogWrites counts AddRevision/AddGroup calls.
	RevlogWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "revlog",
		Name:      "writes_total",
		Help:      "Number of revlog revisions appended.",
	}, []string{"revlog"})

	// TransactionCommits/TransactionAborts count txn.Transaction
	// outcomes.
	TransactionCommits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "txn",
		Name:      "commits_total",
		Help:      "Number of transactions committed.",
	})
	TransactionAborts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "txn",
		Name:      "aborts_total",
		Help:      "Number of transactions aborted.",
	})

	// ChangegroupBytes histograms the size of packed/unpacked
	// changegroups, labeled by direction ("pack"/"unpack").
	ChangegroupBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "changegroup",
		Name:      "bytes",
		Help:      "Size in bytes of changegroups packed or unpacked.",
		Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
	}, []string{"direction"})
)

func init() {
	Registry.MustRegister(RevlogReads, RevlogWrites, TransactionCommits, TransactionAborts, ChangegroupBytes)
}

// Handler serves this registry's metrics in the Prometheus text
// exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

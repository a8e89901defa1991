package fetcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	sourcePoll = "poll"
	sourcePush = "push"
)

var (
	granulesAdmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s2dl_granules_admitted_total",
			Help: "Granules admitted to the database and the to-download queue",
		},
		[]string{"source"},
	)

	granulesDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s2dl_granules_duplicate_total",
			Help: "Granules already present at admission time",
		},
		[]string{"source"},
	)

	granulesFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s2dl_granules_filtered_total",
			Help: "Granules rejected before admission",
		},
		[]string{"source", "reason"},
	)

	pagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "s2dl_fetcher_pages_total",
			Help: "Catalog pages fetched by the polling link fetcher",
		},
	)
)

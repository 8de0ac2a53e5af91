package plexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	segmentsMuxed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexer_segments_muxed_total",
		Help: "Segments written to the bearer, by protocol id.",
	}, []string{"protocol"})

	segmentsDemuxed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexer_segments_demuxed_total",
		Help: "Segments read from the bearer, by protocol id.",
	}, []string{"protocol"})

	bytesMuxed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexer_bytes_muxed_total",
		Help: "Payload bytes written to the bearer, by protocol id.",
	}, []string{"protocol"})

	bytesDemuxed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexer_bytes_demuxed_total",
		Help: "Payload bytes read from the bearer, by protocol id.",
	}, []string{"protocol"})

	unregisteredSegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plexer_unregistered_segments_total",
		Help: "Ingress segments dropped because no channel was registered.",
	})
)

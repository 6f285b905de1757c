package controller

import (
	"context"
	"time"

	"pathfinder/common"
	"pathfinder/metrics"
	"pathfinder/routing"
	"pathfinder/topology"

	log "github.com/sirupsen/logrus"
)

const DefaultPollPeriod = 10 * time.Second

// PollLoop periodically refreshes the topology and rebuilds the path table when the
// adjacency matrix changed. Ticks never overlap.
type PollLoop struct {
	source  topology.Source
	builder *topology.Builder
	paths   *routing.PathTableBuilder
	manager *common.TopologyManager
	period  time.Duration

	prevMatrix *common.Matrix
	pathTable  common.PathTable
	pathsBuilt bool

	// OnRebuild is called after a snapshot with a new path table has been published
	OnRebuild func(snap *common.Snapshot)
	// OnTick is called at the end of every tick
	OnTick func()
}

func NewPollLoop(source topology.Source, manager *common.TopologyManager,
	paths *routing.PathTableBuilder, period time.Duration) *PollLoop {
	if period <= 0 {
		period = DefaultPollPeriod
	}
	if paths == nil {
		paths = routing.NewPathTableBuilder(nil)
	}
	return &PollLoop{
		source:  source,
		builder: topology.NewBuilder(),
		paths:   paths,
		manager: manager,
		period:  period,
	}
}

// Run ticks until ctx is done
func (l *PollLoop) Run(ctx context.Context) error {
	log.Infof("PollLoop starting, period: %v", l.period)

	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof("PollLoop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick runs one refresh round and publishes the resulting snapshot
func (l *PollLoop) Tick(ctx context.Context) *common.Snapshot {
	metrics.TopologyPolls.Inc()
	tables := l.builder.Refresh(ctx, l.source)

	matrix := l.prevMatrix
	if len(tables.Switches) > 0 {
		matrix = topology.BuildMatrix(tables.Switches, tables.Links)
	}

	rebuilt := false
	if !matrix.Equal(l.prevMatrix) {
		log.Infof("Tick, topology update, switch num: %d, link num: %d", matrix.Len(), matrix.LinkCount())
		l.pathTable = l.paths.Build(matrix)
		l.pathsBuilt = true
		rebuilt = true
		metrics.PathTableRebuilds.Inc()
		metrics.PathPairs.Set(float64(len(l.pathTable)))
	}
	l.prevMatrix = matrix

	snap := l.manager.Publish(&common.Snapshot{
		Switches:   tables.Switches,
		PortToMAC:  tables.PortToMAC,
		Links:      tables.Links,
		Bindings:   tables.Bindings,
		Hosts:      tables.Hosts,
		HostLocs:   tables.HostLocs,
		Matrix:     matrix,
		Paths:      l.pathTable,
		PathsBuilt: l.pathsBuilt,
	})

	if rebuilt && l.OnRebuild != nil {
		l.OnRebuild(snap)
	}
	if l.OnTick != nil {
		l.OnTick()
	}
	return snap
}

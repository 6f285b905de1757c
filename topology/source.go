package topology

import (
	"context"

	"pathfinder/common"
)

// Source is the topology collaborator: it reports the switches, links and hosts it currently knows.
type Source interface {
	ListSwitches(ctx context.Context) ([]common.Switch, error)
	ListLinks(ctx context.Context) ([]common.Link, error)
	ListHosts(ctx context.Context) ([]common.Host, error)
}

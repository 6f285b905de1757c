package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"pathfinder/common"

	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	SwitchesDir = "/switches/"
	LinksDir    = "/links/"
	HostsDir    = "/hosts/"

	DefaultPrefix = "/topology"
)

type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
}

func DefaultEtcdConfig() EtcdConfig {
	return EtcdConfig{
		Endpoints:   []string{"localhost:2379"},
		DialTimeout: 5 * time.Second,
		Prefix:      DefaultPrefix,
	}
}

type portRecord struct {
	PortNo uint32 `json:"port_no"`
	HWMac  string `json:"hw_mac"`
}

type switchRecord struct {
	ID    uint64       `json:"id"`
	Ports []portRecord `json:"ports"`
}

type endpointRecord struct {
	SwitchID uint64 `json:"switch_id"`
	PortNo   uint32 `json:"port_no"`
}

type linkRecord struct {
	Src endpointRecord `json:"src"`
	Dst endpointRecord `json:"dst"`
}

type hostRecord struct {
	MAC      string         `json:"mac"`
	Location endpointRecord `json:"location"`
}

// TopologySource reads the switches, links and hosts a discovery agent keeps under a key prefix
type TopologySource struct {
	client  *clientv3.Client
	kv      clientv3.KV
	prefix  string
	timeout time.Duration
}

func NewTopologySource(config EtcdConfig) (*TopologySource, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   config.Endpoints,
		DialTimeout: config.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	source := newTopologySource(client, config)
	source.client = client
	return source, nil
}

func newTopologySource(kv clientv3.KV, config EtcdConfig) *TopologySource {
	prefix := strings.TrimSuffix(config.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	timeout := config.DialTimeout
	if timeout <= 0 {
		timeout = DefaultEtcdConfig().DialTimeout
	}
	return &TopologySource{kv: kv, prefix: prefix, timeout: timeout}
}

func (s *TopologySource) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *TopologySource) ListSwitches(ctx context.Context) ([]common.Switch, error) {
	var switches []common.Switch
	err := s.list(ctx, SwitchesDir, func(key string, value []byte) error {
		sw, err := parseSwitch(value)
		if err != nil {
			return err
		}
		switches = append(switches, sw)
		return nil
	})
	return switches, err
}

func (s *TopologySource) ListLinks(ctx context.Context) ([]common.Link, error) {
	var links []common.Link
	err := s.list(ctx, LinksDir, func(key string, value []byte) error {
		link, err := parseLink(value)
		if err != nil {
			return err
		}
		links = append(links, link)
		return nil
	})
	return links, err
}

func (s *TopologySource) ListHosts(ctx context.Context) ([]common.Host, error) {
	var hosts []common.Host
	err := s.list(ctx, HostsDir, func(key string, value []byte) error {
		host, err := parseHost(value)
		if err != nil {
			return err
		}
		hosts = append(hosts, host)
		return nil
	})
	return hosts, err
}

// list runs a prefix Get under dir; entries that fail to parse are skipped
func (s *TopologySource) list(ctx context.Context, dir string, parse func(key string, value []byte) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.kv.Get(ctx, s.prefix+dir, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("failed to list %s%s: %w", s.prefix, dir, err)
	}

	for _, kv := range resp.Kvs {
		if err := parse(string(kv.Key), kv.Value); err != nil {
			log.Warningf("list, skipping malformed entry %s: %v", kv.Key, err)
		}
	}
	return nil
}

func parseSwitch(value []byte) (common.Switch, error) {
	var record switchRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return common.Switch{}, err
	}

	sw := common.Switch{ID: common.DPID(record.ID)}
	for _, p := range record.Ports {
		port := common.Port{No: common.PortNo(p.PortNo)}
		if p.HWMac != "" {
			mac, err := net.ParseMAC(p.HWMac)
			if err != nil {
				return common.Switch{}, fmt.Errorf("port %d: %w", p.PortNo, err)
			}
			port.HWAddr = mac
		}
		sw.Ports = append(sw.Ports, port)
	}
	return sw, nil
}

func parseLink(value []byte) (common.Link, error) {
	var record linkRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return common.Link{}, err
	}
	return common.Link{
		Src: common.Endpoint{DPID: common.DPID(record.Src.SwitchID), Port: common.PortNo(record.Src.PortNo)},
		Dst: common.Endpoint{DPID: common.DPID(record.Dst.SwitchID), Port: common.PortNo(record.Dst.PortNo)},
	}, nil
}

func parseHost(value []byte) (common.Host, error) {
	var record hostRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return common.Host{}, err
	}
	mac, err := net.ParseMAC(record.MAC)
	if err != nil {
		return common.Host{}, err
	}
	return common.Host{
		MAC: mac,
		Location: common.Endpoint{
			DPID: common.DPID(record.Location.SwitchID),
			Port: common.PortNo(record.Location.PortNo),
		},
	}, nil
}

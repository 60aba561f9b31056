package cbconfig

import (
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/couchbaselabs/gocbcluster/cberr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wireNode mirrors the nodesExt[] shape (spec.md §6 Configuration JSON).
type wireNode struct {
	Hostname  string                    `json:"hostname"`
	ThisNode  bool                      `json:"thisNode"`
	Services  map[string]int            `json:"services"`
	Alternate map[string]wireAlternate  `json:"alternateAddresses"`
}

type wireAlternate struct {
	Hostname string         `json:"hostname"`
	Ports    map[string]int `json:"ports"`
}

// legacy pre-5.0 shape: no nodesExt, topology synthesized from
// vBucketServerMap.serverList + nodes[] (spec.md §4.2).
type legacyNode struct {
	Hostname     string         `json:"hostname"`
	Ports        map[string]int `json:"ports"`
	CouchAPIBase string         `json:"couchApiBase"`
	ThisNode     bool           `json:"thisNode"`
}

type wireVBucketServerMap struct {
	NumReplicas int        `json:"numReplicas"`
	VBucketMap  [][]int    `json:"vBucketMap"`
	ServerList  []string   `json:"serverList"`
}

type wireDoc struct {
	Rev                *uint64                `json:"rev"`
	Name               string                 `json:"name"`
	UUID               string                 `json:"uuid"`
	NodeLocator        string                 `json:"nodeLocator"`
	NodesExt           []wireNode             `json:"nodesExt"`
	Nodes              []legacyNode           `json:"nodes"`
	VBucketServerMap   *wireVBucketServerMap  `json:"vBucketServerMap"`
	BucketCapabilities []string               `json:"bucketCapabilities"`
	ClusterCapabilities map[string][]string   `json:"clusterCapabilities"`
	CollectionsManifestUID string             `json:"collectionsManifestUid"`
}

// serviceTag maps the wire service-port key names to our Service enum.
var serviceTag = map[string]Service{
	"kv":        ServiceKV,
	"kvSSL":     ServiceKV,
	"mgmt":      ServiceMgmt,
	"mgmtSSL":   ServiceMgmt,
	"n1ql":      ServiceQuery,
	"n1qlSSL":   ServiceQuery,
	"fts":       ServiceSearch,
	"ftsSSL":    ServiceSearch,
	"cbas":      ServiceAnalytics,
	"cbasSSL":   ServiceAnalytics,
	"capi":      ServiceViews,
	"capiSSL":   ServiceViews,
}

var tlsServiceTag = map[string]bool{
	"kvSSL": true, "mgmtSSL": true, "n1qlSSL": true, "ftsSSL": true, "cbasSSL": true, "capiSSL": true,
}

// Parse decodes a server-produced configuration document (full JSON or
// the terse "cccp" variant delivered in-band over KV — both share the
// same field set) into a Configuration (spec.md §4.2, §6).
func Parse(body []byte, bucket string) (*Configuration, error) {
	var doc wireDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, cberr.Wrap(cberr.KindParsingFailure, err, "decode configuration document")
	}

	c := &Configuration{
		ID:     NewID(),
		Bucket: bucket,
		UUID:   doc.UUID,
	}
	if bucket == "" {
		c.Bucket = doc.Name
	}
	if doc.Rev != nil {
		c.Rev = *doc.Rev
		c.HasRev = true
	}
	switch doc.NodeLocator {
	case "vbucket":
		c.Locator = LocatorVBucket
	case "ketama":
		c.Locator = LocatorKetama
	default:
		c.Locator = LocatorUnknown
	}

	if len(doc.NodesExt) > 0 {
		c.Nodes = parseNodesExt(doc.NodesExt)
	} else if doc.VBucketServerMap != nil {
		c.Nodes = synthesizeLegacyNodes(doc.VBucketServerMap.ServerList, doc.Nodes)
	}

	if doc.VBucketServerMap != nil {
		c.NumReplicas = doc.VBucketServerMap.NumReplicas
		c.HasReplicas = true
		c.VBMap = doc.VBucketServerMap.VBucketMap
	}

	c.BucketCapabilities = NewCapabilitySet()
	for _, cap := range doc.BucketCapabilities {
		c.BucketCapabilities[Capability(cap)] = struct{}{}
	}
	c.ClusterCapabilities = NewCapabilitySet()
	for _, caps := range doc.ClusterCapabilities {
		for _, cap := range caps {
			c.ClusterCapabilities[Capability(cap)] = struct{}{}
		}
	}

	if err := validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

// parseNodesExt builds Node entries from the modern nodesExt[] section.
func parseNodesExt(wn []wireNode) []*Node {
	nodes := make([]*Node, 0, len(wn))
	for _, w := range wn {
		n := &Node{
			Hostname:      stripPort(w.Hostname),
			IsThisNode:    w.ThisNode,
			ServicesPlain: Ports{},
			ServicesTLS:   Ports{},
		}
		for tag, port := range w.Services {
			svc, ok := serviceTag[tag]
			if !ok {
				continue
			}
			if tlsServiceTag[tag] {
				n.ServicesTLS[svc] = port
			} else {
				n.ServicesPlain[svc] = port
			}
		}
		if len(w.Alternate) > 0 {
			n.Alternate = make(map[string]AlternateAddress, len(w.Alternate))
			for name, alt := range w.Alternate {
				aa := AlternateAddress{
					Hostname:      stripPort(alt.Hostname),
					ServicesPlain: Ports{},
					ServicesTLS:   Ports{},
				}
				for tag, port := range alt.Ports {
					svc, ok := serviceTag[tag]
					if !ok {
						continue
					}
					if tlsServiceTag[tag] {
						aa.ServicesTLS[svc] = port
					} else {
						aa.ServicesPlain[svc] = port
					}
				}
				n.Alternate[name] = aa
			}
		}
		nodes = append(nodes, n)
	}
	return nodes
}

// synthesizeLegacyNodes builds Node entries for pre-5.0 servers that
// have no nodesExt section: hostnames come from
// vBucketServerMap.serverList (index-aligned with the vbucket map), and
// per-node extra info (mgmt port, couchApiBase) comes from the parallel
// nodes[] array when hostnames line up (spec.md §4.2).
func synthesizeLegacyNodes(serverList []string, legacy []legacyNode) []*Node {
	byHost := make(map[string]legacyNode, len(legacy))
	for _, ln := range legacy {
		byHost[stripPort(ln.Hostname)] = ln
	}
	nodes := make([]*Node, 0, len(serverList))
	for _, entry := range serverList {
		host, kvPort := splitHostPort(entry)
		n := &Node{
			Hostname:      host,
			ServicesPlain: Ports{ServiceKV: kvPort},
			ServicesTLS:   Ports{},
		}
		if ln, ok := byHost[host]; ok {
			n.IsThisNode = ln.ThisNode
			if mgmt, ok := ln.Ports["direct"]; ok {
				n.ServicesPlain[ServiceMgmt] = mgmt
			}
			if httpsPort, ok := ln.Ports["httpsMgmt"]; ok {
				n.ServicesTLS[ServiceMgmt] = httpsPort
			}
			if ln.CouchAPIBase != "" {
				if _, port := splitHostPort(stripScheme(ln.CouchAPIBase)); port != 0 {
					n.ServicesPlain[ServiceViews] = port
				}
			}
		}
		nodes = append(nodes, n)
	}
	return nodes
}

// stripPort removes a trailing ":port" from a hostname token (spec.md
// §4.2: "A hostname token containing `:port` has the port stripped
// before storage").
func stripPort(hostport string) string {
	host, _ := splitHostPort(hostport)
	return host
}

func splitHostPort(hostport string) (host string, port int) {
	i := strings.LastIndex(hostport, ":")
	if i < 0 {
		return hostport, 0
	}
	p, err := strconv.Atoi(hostport[i+1:])
	if err != nil {
		return hostport, 0
	}
	return hostport[:i], p
}

func stripScheme(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		url = url[i+3:]
	}
	if i := strings.Index(url, "/"); i >= 0 {
		url = url[:i]
	}
	return url
}

// validate enforces the spec.md §3 invariants that are cheap to check
// at parse time: at most one this_node, and every non-negative vbucket
// map index is in range.
func validate(c *Configuration) error {
	thisCount := 0
	for _, n := range c.Nodes {
		if n.IsThisNode {
			thisCount++
		}
	}
	if thisCount > 1 {
		return cberr.New(cberr.KindParsingFailure, "more than one node marked this_node")
	}
	for _, row := range c.VBMap {
		for _, idx := range row {
			if idx >= len(c.Nodes) {
				return cberr.Newf(cberr.KindParsingFailure, "vbucket map index %d out of range (have %d nodes)", idx, len(c.Nodes))
			}
		}
	}
	return nil
}

package mcp

import (
	"fmt"
	"strconv"

	"github.com/yosida95/uritemplate/v3"
)

// Clusters are addressed with stable URIs so an agent can hold on to one
// across turns and drill in later via overview_cluster.
var clusterTemplate = uritemplate.MustNew("lacuna://overview/{model}/cluster/{id}")

func ClusterURI(model string, cluster int) string {
	uri, err := clusterTemplate.Expand(uritemplate.Values{
		"model": uritemplate.String(model),
		"id":    uritemplate.String(strconv.Itoa(cluster)),
	})
	if err != nil {
		// Expansion only fails on un-expandable values; fall back to the raw form.
		return fmt.Sprintf("lacuna://overview/%s/cluster/%d", model, cluster)
	}
	return uri
}

func ParseClusterURI(uri string) (model string, cluster int, err error) {
	match := clusterTemplate.Match(uri)
	if match == nil {
		return "", 0, fmt.Errorf("not a cluster URI: %q", uri)
	}
	model = match.Get("model").String()
	cluster, err = strconv.Atoi(match.Get("id").String())
	if err != nil {
		return "", 0, fmt.Errorf("invalid cluster id in URI %q", uri)
	}
	return model, cluster, nil
}

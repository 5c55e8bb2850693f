package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/tzafon/warmpool/internal/instancepb"
	"github.com/tzafon/warmpool/internal/logging"
	"github.com/tzafon/warmpool/internal/transport"
)

func main() {
	var clientCfg transport.ClientConfig
	clientCfg.RegisterClientFlags(flag.CommandLine)
	instanceType := flag.String("instance-type", string(instancepb.TypeChromeBrowser), "instance type to list")
	hasParent := flag.String("has-parent", "", "filter on claim state: true or false")
	alive := flag.String("alive", "", "filter on liveness: true or false")
	flag.Parse()

	logger, err := logging.New(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	if err := run(*instanceType, *hasParent, *alive, &clientCfg); err != nil {
		fmt.Fprintf(os.Stderr, "fleetctl: %v\n", err)
		os.Exit(1)
	}
}

func run(instanceType, hasParent, alive string, clientCfg *transport.ClientConfig) error {
	typ := instancepb.InstanceType(instanceType)
	if !typ.Valid() {
		return fmt.Errorf("unknown instance type %q", instanceType)
	}
	parentFilter, err := parseTriState("has-parent", hasParent)
	if err != nil {
		return err
	}
	aliveFilter, err := parseTriState("alive", alive)
	if err != nil {
		return err
	}

	conn, err := clientCfg.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	get := instancepb.NewGetClient(conn)
	resp, err := get.GetAllInstances(ctx, &instancepb.AllInstancesQuery{InstanceType: typ})
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}

	var matched []*instancepb.InstanceDescription
	childrenPerParent := map[string]int{}
	for _, id := range resp.InstanceIDs {
		d, err := get.GetInstance(ctx, &instancepb.InstanceRef{InstanceID: id})
		if err != nil {
			return fmt.Errorf("get %s: %w", id, err)
		}
		if d.Parent != nil {
			childrenPerParent[d.Parent.InstanceID]++
		}
		if parentFilter != nil && (d.Parent != nil) != *parentFilter {
			continue
		}
		if aliveFilter != nil && isHealthy(d) != *aliveFilter {
			continue
		}
		matched = append(matched, d)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].InstanceID < matched[j].InstanceID
	})
	for _, d := range matched {
		fmt.Println(formatInstance(d))
	}
	fmt.Printf("%d of %d %s instances matched\n", len(matched), len(resp.InstanceIDs), typ)

	if len(childrenPerParent) > 0 {
		parents := make([]string, 0, len(childrenPerParent))
		for id := range childrenPerParent {
			parents = append(parents, id)
		}
		sort.Strings(parents)
		fmt.Println("claimed instances per proxy:")
		for _, id := range parents {
			fmt.Printf("  %s: %d\n", id, childrenPerParent[id])
		}
	}
	return nil
}

// isHealthy mirrors what the pool considers usable: heartbeating and not
// marked for teardown.
func isHealthy(d *instancepb.InstanceDescription) bool {
	return d.HealthCheck != nil && d.KillRequest == nil
}

func formatInstance(d *instancepb.InstanceDescription) string {
	state := "idle"
	switch {
	case d.KillRequest != nil:
		state = fmt.Sprintf("killed (%s)", d.KillRequest.Reason)
	case d.Parent != nil:
		state = "claimed by " + d.Parent.InstanceID
	}
	created := time.UnixMilli(d.CreatedTimestampMs).UTC().Format("2006-01-02 15:04:05")
	return fmt.Sprintf("%-45s %-12s created %s  %s", d.InstanceID, d.InstanceType, created, state)
}

// parseTriState turns an optional true/false flag into a filter; an empty
// value means no filtering.
func parseTriState(name, value string) (*bool, error) {
	switch value {
	case "":
		return nil, nil
	case "true":
		v := true
		return &v, nil
	case "false":
		v := false
		return &v, nil
	}
	return nil, fmt.Errorf("--%s must be true or false, got %q", name, value)
}

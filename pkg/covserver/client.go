// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package covserver

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/lepusfuzz/lepus/pkg/cover"
	"github.com/lepusfuzz/lepus/pkg/rpctype"
	"github.com/lepusfuzz/lepus/pkg/sample"
)

// Client is the fuzzer-side connection to the coverage server.
// Callers serialize access (the fuzzer holds its server lock around
// every call).
type Client struct {
	c *rpctype.RPCClient
	// id identifies this fuzzer session to the server so GetUpdates
	// only returns samples this session has not pulled yet.
	id string
}

func NewClient(addr string) (*Client, error) {
	c, err := rpctype.NewRPCClient(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coverage server: %w", err)
	}
	return &Client{
		c:  c,
		id: uuid.NewString(),
	}, nil
}

// ReportNewCoverage pushes newly discovered coverage. smp is nil when
// reporting variable coverage that should be recorded but not
// distributed.
func (cli *Client) ReportNewCoverage(cov cover.Coverage, smp *sample.Sample) error {
	args := &rpctype.NewCoverageArgs{
		Coverage: cov.Serialize(),
	}
	if smp != nil {
		args.Sample = smp.Data
	}
	return cli.c.Call("CoverageServer.ReportNewCoverage", args, new(int))
}

func (cli *Client) ReportCrash(smp *sample.Sample, name string) error {
	args := &rpctype.CrashArgs{
		Sample: smp.Data,
		Name:   name,
	}
	return cli.c.Call("CoverageServer.ReportCrash", args, new(int))
}

// GetUpdates appends samples this session has not seen to dst.
func (cli *Client) GetUpdates(dst *[]*sample.Sample, totalExecs uint64) error {
	args := &rpctype.UpdatesArgs{
		Client:     cli.id,
		TotalExecs: totalExecs,
	}
	res := new(rpctype.UpdatesRes)
	if err := cli.c.Call("CoverageServer.GetUpdates", args, res); err != nil {
		return err
	}
	for _, data := range res.Samples {
		*dst = append(*dst, sample.New(data))
	}
	return nil
}

func (cli *Client) Close() {
	cli.c.Close()
}

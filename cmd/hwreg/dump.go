package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hwreg/bus"
	"hwreg/desc"
	"hwreg/ral"
	"hwreg/util/env"
)

// simDriver builds a local simulator from the description instead of opening a bus driver.
const simDriver = "sim"

var (
	busDesc   string
	busDriver string
	busTarget string

	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Read and print every readable register of a register map",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			top, closer, err := openMap(ctx)
			if err != nil {
				return err
			}
			defer closer()
			return dumpTree(ctx, cmd.OutOrStdout(), top)
		},
	}

	driversCmd = &cobra.Command{
		Use:   "drivers",
		Short: "List the available bus drivers",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-8s local simulator built from --desc\n", simDriver)
			for _, name := range bus.Drivers() {
				d, _ := bus.Lookup(name)
				fmt.Fprintf(w, "%-8s %s\n", name, d.Description())
			}
		},
	}
)

func addBusFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&busDesc, "desc", env.GetOrDefault("HWREG_DESC", ""), "register map description (YAML or JSON)")
	cmd.Flags().StringVar(&busDriver, "driver", env.GetOrDefault("HWREG_DRIVER", simDriver), "bus driver, see hwreg drivers")
	cmd.Flags().StringVar(&busTarget, "target", env.GetOrDefault("HWREG_TARGET", ""), "driver specific target")
}

func init() {
	addBusFlags(dumpCmd)
	_ = dumpCmd.MarkFlagRequired("desc")
}

// openCallbacks connects the configured driver; root is only needed for the sim driver.
func openCallbacks(ctx context.Context, root *desc.Node) (ral.CallbackSet, func(), error) {
	if busDriver == simDriver {
		s, err := desc.BuildSimulator(root, logger)
		if err != nil {
			return ral.CallbackSet{}, nil, err
		}
		return s.Callbacks(), func() {}, nil
	}

	conn, err := bus.Open(ctx, busDriver, busTarget, logger)
	if err != nil {
		return ral.CallbackSet{}, nil, err
	}
	return conn.Callbacks(), func() {
		if err := conn.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}, nil
}

func openMap(ctx context.Context) (*ral.AddressMap, func(), error) {
	root, err := desc.Load(busDesc)
	if err != nil {
		return nil, nil, err
	}
	cb, closer, err := openCallbacks(ctx, root)
	if err != nil {
		return nil, nil, err
	}
	top, err := desc.Build(root, cb, logger)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return top, closer, nil
}

type section interface {
	ral.Container
	Sections(unroll bool) []ral.Node
	ReadableRegisters(unroll bool) []ral.Node
}

// dumpTree prints every readable register below c, depth first in declaration order, with its
// readable fields decoded from that single read.
func dumpTree(ctx context.Context, w io.Writer, c section) error {
	for _, n := range c.ReadableRegisters(true) {
		r := n.(ral.ReadableRegister)
		v, err := r.Read(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", r.FullInstName(), err)
		}
		fmt.Fprintf(w, "0x%08X %-40s 0x%0*X\n", r.Address(), r.FullInstName(), int(r.Width()/4), v)

		for _, f := range r.ReadableFields() {
			fv, err := f.Decode(v)
			if err != nil {
				return fmt.Errorf("%s: %w", f.FullInstName(), err)
			}
			fmt.Fprintf(w, "           %-40s 0x%X\n", "."+f.InstName(), fv)
		}
	}

	for _, n := range c.Sections(true) {
		if err := dumpTree(ctx, w, n.(section)); err != nil {
			return err
		}
	}
	if m, ok := c.(*ral.AddressMap); ok {
		for _, n := range m.Memories(true) {
			if err := dumpTree(ctx, w, n.(section)); err != nil {
				return err
			}
		}
	}
	return nil
}

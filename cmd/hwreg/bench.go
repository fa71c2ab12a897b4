package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/spf13/cobra"

	"hwreg/ral"
)

var (
	benchRegister string
	benchCount    int
	benchBins     int

	benchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Measure register read latency and print a histogram",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			top, closer, err := openMap(ctx)
			if err != nil {
				return err
			}
			defer closer()

			r, err := findReadable(top, benchRegister)
			if err != nil {
				return err
			}
			samples, err := measure(ctx, r, benchCount)
			if err != nil {
				return err
			}
			return printHistogram(cmd.OutOrStdout(), samples, benchBins)
		},
	}
)

func init() {
	addBusFlags(benchCmd)
	benchCmd.Flags().StringVar(&benchRegister, "register", "", "register to read; the first readable register when empty")
	benchCmd.Flags().IntVar(&benchCount, "count", 1000, "number of reads")
	benchCmd.Flags().IntVar(&benchBins, "bins", 10, "histogram bins")
	_ = benchCmd.MarkFlagRequired("desc")
}

// findReadable looks up a readable register by its full instance name below top.
func findReadable(top *ral.AddressMap, name string) (ral.ReadableRegister, error) {
	var found ral.ReadableRegister
	var walk func(c section)
	walk = func(c section) {
		for _, n := range c.ReadableRegisters(true) {
			if found == nil && (name == "" || n.FullInstName() == name) {
				found = n.(ral.ReadableRegister)
			}
		}
		for _, n := range c.Sections(true) {
			walk(n.(section))
		}
		if m, ok := c.(*ral.AddressMap); ok {
			for _, n := range m.Memories(true) {
				walk(n.(section))
			}
		}
	}
	walk(top)
	if found == nil {
		return nil, fmt.Errorf("%w: no readable register %q", ral.ErrInvalidArgument, name)
	}
	return found, nil
}

// measure returns the latency of count reads of r in microseconds.
func measure(ctx context.Context, r ral.ReadableRegister, count int) ([]float64, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive", ral.ErrInvalidArgument)
	}
	samples := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		start := time.Now()
		if _, err := r.Read(ctx); err != nil {
			return nil, err
		}
		samples = append(samples, float64(time.Since(start).Nanoseconds())/1e3)
	}
	return samples, nil
}

func printHistogram(w io.Writer, samples []float64, bins int) error {
	if len(samples) == 0 {
		return fmt.Errorf("%w: no samples", ral.ErrInvalidArgument)
	}
	if bins <= 0 {
		bins = 10
	}
	var sum float64
	min, max := samples[0], samples[0]
	for _, s := range samples {
		sum += s
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	fmt.Fprintf(w, "%d reads, mean %.2fµs\n", len(samples), sum/float64(len(samples)))
	if min == max {
		_, err := fmt.Fprintf(w, "all reads took %.2fµs\n", min)
		return err
	}
	return histogram.Fprint(w, histogram.Hist(bins, samples), histogram.Linear(40))
}

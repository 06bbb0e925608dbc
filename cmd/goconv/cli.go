package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"

	"github.com/FlavioCFOliveira/goconv/internal/envconfig"
	"github.com/FlavioCFOliveira/goconv/internal/layer"
	"github.com/FlavioCFOliveira/goconv/internal/logutil"
	"github.com/FlavioCFOliveira/goconv/internal/tensor"
)

// NewCLI builds the goconv command tree.
func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "goconv",
		Short: "2D convolution forward pass",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true

			level := envconfig.LogLevel()
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(logutil.NewLogger(os.Stderr, level))
		},
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	cobra.EnableCommandSorting = false

	forwardCmd := &cobra.Command{
		Use:   "forward",
		Short: "Run a forward pass over a generated input",
		Long:  "Convolve a constant or random input volume with a seeded random filter bank and print the output channels",
		Args:  cobra.NoArgs,
		RunE:  ForwardHandler,
	}

	forwardCmd.Flags().Int("width", 8, "Input width")
	forwardCmd.Flags().Int("height", 8, "Input height")
	forwardCmd.Flags().Int("depth", 1, "Input depth (channels)")
	forwardCmd.Flags().Int("window", 3, "Filter window size")
	forwardCmd.Flags().Int("stride", 1, "Stride between windows")
	forwardCmd.Flags().Int("padding", 0, "Zero padding on each side")
	forwardCmd.Flags().Int("filters", 1, "Number of filters (output depth)")
	forwardCmd.Flags().Uint64("seed", 42, "Seed for the random filters and input")
	forwardCmd.Flags().String("fill", "random", "Input values: \"random\" or a constant number")
	forwardCmd.Flags().Bool("ones", false, "Use all-ones filters with zero bias instead of random filters")
	forwardCmd.Flags().Bool("normalize", false, "Normalize every filter before the pass")
	forwardCmd.Flags().String("device", "", "Device to use, cpu or blas (default from GOCONV_DEVICE)")
	forwardCmd.Flags().Int("workers", 0, "Worker goroutines (default from GOCONV_NUM_THREADS)")
	forwardCmd.Flags().Int("show", 1, "Number of output channels to print")
	forwardCmd.Flags().Int("crop", 8, "Print at most crop x crop cells per channel")

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Show environment configuration",
		Args:  cobra.NoArgs,
		RunE:  EnvHandler,
	}

	rootCmd.AddCommand(forwardCmd, envCmd)

	return rootCmd
}

func ForwardHandler(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	width, _ := flags.GetInt("width")
	height, _ := flags.GetInt("height")
	depth, _ := flags.GetInt("depth")
	window, _ := flags.GetInt("window")
	stride, _ := flags.GetInt("stride")
	padding, _ := flags.GetInt("padding")
	filters, _ := flags.GetInt("filters")
	seed, _ := flags.GetUint64("seed")
	fill, _ := flags.GetString("fill")
	ones, _ := flags.GetBool("ones")
	normalize, _ := flags.GetBool("normalize")
	deviceName, _ := flags.GetString("device")
	workers, _ := flags.GetInt("workers")
	show, _ := flags.GetInt("show")
	crop, _ := flags.GetInt("crop")

	cfg, err := layer.NewConfig(width, height, depth, window,
		layer.WithStride(stride), layer.WithPadding(padding), layer.WithFilters(filters))
	if err != nil {
		return err
	}

	if deviceName == "" {
		deviceName = envconfig.Device
	}
	device, err := layer.ParseDevice(deviceName, workers)
	if err != nil {
		return err
	}

	input, err := newInput(width, height, depth, fill, seed)
	if err != nil {
		return err
	}

	var bank layer.FilterBank
	if ones {
		bank = layer.NewFilterBank(filters, window, depth)
		for _, f := range bank {
			f.Weights.Fill(1)
		}
	} else {
		bank = layer.NewRandomBank(filters, window, depth, seed)
	}
	if normalize {
		if err := bank.Normalize(); err != nil {
			return err
		}
	}

	conv := layer.NewConv2D(cfg, layer.WithDevice(device))

	start := time.Now()
	res, err := conv.Forward(cmd.Context(), input, bank)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "config: %s\n", cfg)
	fmt.Fprintf(w, "output: %dx%dx%d on %s in %s\n", res.OutWidth, res.OutHeight, res.OutDepth, device.Type(), elapsed)
	if !cfg.Exact() {
		fmt.Fprintln(w, "note: stride does not tile the padded input, trailing rows/columns were dropped")
	}

	for k := 0; k < min(show, res.OutDepth); k++ {
		fmt.Fprintf(w, "\nchannel %d\n", k)
		printChannel(w, res.Output, k, crop)
	}
	return nil
}

func newInput(width, height, depth int, fill string, seed uint64) (*tensor.Volume, error) {
	v := tensor.New(width, height, depth)
	if strings.EqualFold(fill, "random") {
		// Separate stream from the filter bank, which uses seed directly.
		rng := rand.New(rand.NewSource(seed + 1))
		data := v.Data()
		for i := range data {
			data[i] = rng.Float64()
		}
		return v, nil
	}

	c, err := strconv.ParseFloat(fill, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid --fill %q: %w", fill, err)
	}
	v.Fill(c)
	return v, nil
}

// printChannel renders channel k with x as rows and y as columns.
func printChannel(w io.Writer, v *tensor.Volume, k, crop int) {
	m := v.Channel(k)
	rows, cols := m.Dims()
	rows, cols = min(rows, crop), min(cols, crop)

	header := []string{"x\\y"}
	for y := 0; y < cols; y++ {
		header = append(header, strconv.Itoa(y))
	}

	var data [][]string
	for x := 0; x < rows; x++ {
		row := []string{strconv.Itoa(x)}
		for y := 0; y < cols; y++ {
			row = append(row, strconv.FormatFloat(m.At(x, y), 'f', 4, 64))
		}
		data = append(data, row)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetBorder(false)
	table.AppendBulk(data)
	table.Render()
}

func EnvHandler(cmd *cobra.Command, args []string) error {
	vars := envconfig.AsMap()
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	var data [][]string
	for _, name := range names {
		v := vars[name]
		data = append(data, []string{v.Name, fmt.Sprintf("%v", v.Value), v.Description})
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"NAME", "VALUE", "DESCRIPTION"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	return nil
}

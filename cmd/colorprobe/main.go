package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"fluidviz/colormap"
	"fluidviz/input"
)

// colorprobe prints the colour, splat count and value a sample maps to.
// Each argument is "ch1,ch2,ch3,ch4" optionally followed by a tag suffix,
// e.g. "10,10,5,5_r".
func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: colorprobe [ch1,ch2,ch3,ch4[_b|_r|_g|_y] ...]\n")
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		args = []string{
			"0,0,0,0",
			"25,25,25,25",
			"40,40,0,0",
			"0,0,40,40",
			"100,100,100,100",
			"20,20,20,20_b",
			"20,20,20,20_y",
		}
	}

	fmt.Println("=== Colour Map Probe ===")
	fmt.Println()
	for _, arg := range args {
		ch, tag, err := parseSample(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", arg, err)
			os.Exit(2)
		}

		sum := ch[0] + ch[1] + ch[2] + ch[3]
		rgb := colormap.FromChannels(ch[0], ch[1], ch[2], ch[3], tag)
		count := input.SplatCount(sum, tag != colormap.TagNone)

		fmt.Printf("%s (tag %s):\n", arg, tag)
		fmt.Printf("  Sum: %.1f  Imbalance: %+.1f\n", sum, (ch[0]+ch[1])-(ch[2]+ch[3]))
		fmt.Printf("  RGB: %.4f, %.4f, %.4f\n", rgb[0], rgb[1], rgb[2])
		fmt.Printf("  Splats: %d\n", count)
		fmt.Println()
	}

	fmt.Println("Radius against a window mean of 80:")
	for _, sum := range []float64{30, 40, 80, 159, 160} {
		fmt.Printf("  sum %.0f -> %.2f\n", sum, input.SelectRadius(sum, 80, true))
	}
}

func parseSample(arg string) ([4]float64, colormap.Tag, error) {
	var ch [4]float64
	tag := colormap.TagNone
	for _, suffix := range colormap.Suffixes() {
		if strings.HasSuffix(arg, suffix) {
			tag, _ = colormap.TagForSuffix(suffix)
			arg = strings.TrimSuffix(arg, suffix)
			break
		}
	}

	parts := strings.Split(arg, ",")
	if len(parts) != 4 {
		return ch, tag, fmt.Errorf("want 4 channels, got %d", len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return ch, tag, fmt.Errorf("ch%d: %w", i+1, err)
		}
		ch[i] = v
	}
	return ch, tag, nil
}

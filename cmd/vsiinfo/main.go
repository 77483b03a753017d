// Command vsiinfo opens an Olympus SIS/ETS container (or its OME-TIFF
// sibling) and prints its pyramid and property table.
package main

import (
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/olyreader/vsi"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <slide-path>\n", os.Args[0])
		os.Exit(1)
	}

	slide, err := vsi.Open(os.Args[1])
	if err != nil {
		log.Fatalf("open %s: %v", os.Args[1], err)
	}
	defer slide.Close()

	fmt.Printf("levels: %d  planes: %d\n", slide.LevelCount(), slide.PlaneCount())
	for i, lvl := range slide.Levels() {
		fmt.Printf("  level %d: %dx%d  tiles %dx%d  tile %dx%d  downsample %.3f\n",
			i, lvl.Width, lvl.Height, lvl.TilesAcross, lvl.TilesDown, lvl.TileWidth, lvl.TileHeight, lvl.Downsample)
	}

	props := slide.Properties()
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s = %s\n", k, props[k])
	}
}

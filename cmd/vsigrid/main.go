// Command vsigrid reads every tile of one DeepZoom level from a slide and
// composites them into a single PNG, following the same grid-compositing
// shape as joining a set of independent image tiles into one canvas.
package main

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"log"
	"os"
	"strconv"

	"github.com/olyreader/vsi"
)

func main() {
	if len(os.Args) != 5 {
		fmt.Fprintf(os.Stderr, "Usage: %s <slide-path> <dz-level> <tile-size> <output.png>\n", os.Args[0])
		os.Exit(1)
	}

	path := os.Args[1]
	dzLevel, err := strconv.Atoi(os.Args[2])
	if err != nil {
		log.Fatalf("invalid dz-level: %v", err)
	}
	tileSize, err := strconv.Atoi(os.Args[3])
	if err != nil {
		log.Fatalf("invalid tile-size: %v", err)
	}
	output := os.Args[4]

	slide, err := vsi.Open(path)
	if err != nil {
		log.Fatalf("open %s: %v", path, err)
	}
	defer slide.Close()

	gen := slide.NewDeepZoomGenerator(int64(tileSize), 0)
	if dzLevel < 0 || dzLevel >= gen.LevelCount() {
		log.Fatalf("dz-level %d out of range [0,%d)", dzLevel, gen.LevelCount())
	}

	grid := gen.LevelTiles(dzLevel)
	zDim := gen.LevelDimensions(dzLevel)
	canvas := image.NewRGBA(image.Rect(0, 0, int(zDim.Width), int(zDim.Height)))

	for row := int64(0); row < grid.Height; row++ {
		for col := int64(0); col < grid.Width; col++ {
			info, err := gen.TileInfo(dzLevel, int(col), int(row))
			if err != nil {
				log.Fatalf("tile info (%d,%d): %v", col, row, err)
			}

			pinned, err := slide.ReadTile(info.Level, int(col), int(row), 0)
			if err != nil {
				log.Fatalf("read tile (%d,%d) at level %d: %v", col, row, info.Level, err)
			}

			lvl := slide.Levels()[info.Level]
			src := &image.RGBA{
				Pix:    pinned.Pixels,
				Stride: int(lvl.TileWidth) * 4,
				Rect:   image.Rect(0, 0, int(lvl.TileWidth), int(lvl.TileHeight)),
			}

			x := int(col * int64(tileSize))
			y := int(row * int64(tileSize))
			dstRect := image.Rect(x, y, x+int(info.ScaleWidth), y+int(info.ScaleHeight))
			draw.Draw(canvas, dstRect, src, image.Point{0, 0}, draw.Src)

			pinned.Release()
		}
	}

	outFile, err := os.Create(output)
	if err != nil {
		log.Fatalf("create %s: %v", output, err)
	}
	defer outFile.Close()
	if err := png.Encode(outFile, canvas); err != nil {
		log.Fatalf("encode PNG: %v", err)
	}
	fmt.Printf("-> wrote %s (%dx%d)\n", output, zDim.Width, zDim.Height)
}

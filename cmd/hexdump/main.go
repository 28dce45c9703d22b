// Command hexdump parses an Intel-HEX firmware image and prints its page
// map, for checking a build before uploading it to the vehicle.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/JocelynWordSmith/polly/internal/firmware"
)

var flashSize = flag.Int("flash", 32*1024, "Target flash size in bytes")

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: hexdump [-flash bytes] <image.hex>\n")
		os.Exit(2)
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatalf("failed to read image: %v", err)
	}

	img, err := firmware.ParseHex(string(data), *flashSize)
	if err != nil {
		log.Fatalf("failed to parse image: %v", err)
	}

	fmt.Printf("%s: %d bytes used, %d pages of %d bytes\n",
		flag.Arg(0), img.ByteCount, len(img.Pages), firmware.PageSize)
	for _, page := range img.Pages {
		used := 0
		for _, b := range page.Data {
			if b != 0xFF {
				used++
			}
		}
		fmt.Printf("  0x%04x  %3d/%d bytes\n", page.Address, used, firmware.PageSize)
	}
}

// Command prerender renders an application's routes to static HTML from
// its browser and server build output.
package main

import (
	"os"

	"github.com/cryguy/prerender"
)

func main() {
	prerender.MaybeRunChild()
	if err := execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	replayinspect "paddlearena/engine/tools/replayinspect"
)

func main() {
	path := flag.String("path", "", "Path to a replay bundle directory or manifest.json")
	list := flag.String("list", "", "List bundle directories under the given replay root")
	flag.Parse()

	if *list != "" {
		bundles, err := replayinspect.ListBundles(*list)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(2)
		}
		for _, bundle := range bundles {
			fmt.Println(bundle)
		}
		return
	}

	if *path == "" {
		fmt.Fprintln(os.Stderr, "either -path or -list is required")
		os.Exit(1)
	}

	manifest, events, frames, err := replayinspect.LoadBundle(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	payload := struct {
		Manifest any                   `json:"manifest"`
		Events   []replayinspect.Event `json:"events"`
		Frames   int                   `json:"frameCount"`
	}{
		Manifest: manifest,
		Events:   events,
		Frames:   len(frames),
	}

	//1.- Emit JSON so callers can pipe the timeline into other tooling.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}

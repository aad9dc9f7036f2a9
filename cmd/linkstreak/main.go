// Command linkstreak ranks open tabs, history and bookmarks against what you
// are working on.
//
// Usage:
//
//	linkstreak                          Show help
//	linkstreak search <focus>           Rank the browser snapshot
//	linkstreak tui [focus]              Interactive ranked list
//	linkstreak serve                    Local HTTP API and /metrics
//	linkstreak index <url>...           Fetch, cache and embed pages
//	linkstreak health <url>             Metadata health of a cached page
//	linkstreak block <url>              Block a page (or --domain for its site)
//	linkstreak weights                  Show or change ranking weights
//	linkstreak poison                   Manage poison keywords
//	linkstreak patterns                 Manage ignored URL patterns
//	linkstreak export | import          Metadata cache backup
//	linkstreak events                   JSONL event log viewer
package main

import (
	"fmt"
	"os"
)

const usage = `linkstreak: context-aware link ranking

Usage:
  linkstreak <command> [flags]

Commands:
  search      Rank the browser snapshot for a focus query
  tui         Interactive ranked list
  serve       Local HTTP API for the browser extension, plus /metrics
  index       Fetch, cache and embed pages
  health      Metadata health of a cached page
  explain     Why a page scores what it does for a query
  block       Block a page or its whole site
  weights     Show or change ranking weights
  poison      List, add or remove poison keywords
  patterns    List, add or remove ignored URL patterns
  export      Write the metadata cache as JSON
  import      Merge a metadata cache JSON export
  events      JSONL event log viewer

Environment:
  LINKSTREAK_CONFIG          Config file (default ~/.linkstreak/config.yaml)
  LINKSTREAK_SNAPSHOT        Browser snapshot exported by the extension
  LINKSTREAK_EMBED_PROVIDER  ollama (default) or jina
  LINKSTREAK_JINA_API_KEY    Jina AI API key (also read as JINA_API_KEY)

Run 'linkstreak <command> -h' for command-specific help.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(0)
	}

	cmd := os.Args[1]
	// Strip the program name + subcommand so flag sets see only their flags
	os.Args = os.Args[1:]

	switch cmd {
	case "search":
		runSearch()
	case "tui":
		runTUI()
	case "serve":
		runServe()
	case "index":
		runIndex()
	case "health":
		runHealth()
	case "explain":
		runExplain()
	case "block":
		runBlock()
	case "weights":
		runWeights()
	case "poison":
		runPoison()
	case "patterns":
		runPatterns()
	case "export":
		runExport()
	case "import":
		runImport()
	case "events":
		runEvents()
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "linkstreak: unknown command %q\n\n", cmd)
		fmt.Print(usage)
		os.Exit(1)
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
)

const usage = `usage: anvilctl <command> [flags]

commands:
  info        level metadata and dimensions
  coords      list stored chunk coordinates
  get         decode one chunk and print a block
  set-block   write one block and save
  delete      delete one chunk and save
  compact     compact region files
  index       scan region headers into the sqlite index
  db          query the sqlite index (regions|chunks|compactions|history)
  export      export a dimension to a compressed file
  import      import a dimension export
  history     print the history journal
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "info":
		infoCmd(args)
	case "coords":
		coordsCmd(args)
	case "get":
		getCmd(args)
	case "set-block":
		setBlockCmd(args)
	case "delete":
		deleteCmd(args)
	case "compact":
		compactCmd(args)
	case "index":
		indexCmd(args)
	case "db":
		dbCmd(args)
	case "export":
		exportCmd(args)
	case "import":
		importCmd(args)
	case "history":
		historyCmd(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

func fatal(what string, err error) {
	fmt.Fprintln(os.Stderr, what+":", err)
	os.Exit(1)
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}

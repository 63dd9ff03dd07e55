package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/twlk9/staticmap"
	"github.com/twlk9/staticmap/gc"
	"github.com/twlk9/staticmap/keys"
	"github.com/twlk9/staticmap/sstable"
)

const version = "1.0.0"

func main() {
	flag.Usage = printUsage

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "dump":
		err = dumpCommand(args)
	case "get":
		err = getCommand(args)
	case "stats":
		err = statsCommand(args)
	case "resolve":
		err = resolveCommand(args)
	case "version":
		fmt.Printf("staticmap-cli version %s\n", version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`staticmap-cli - Load SSTables into static map indexes and query them

Usage:
  staticmap-cli <command> [options]

Commands:
  dump [-v] <sstable>                      Print every record of an SSTable as indexed
  get [-v] <sstable> <key>                 Look up a user key in one SSTable
  stats [-v] <sstable>...                  Show record counts and index sizes
  resolve [-v] [-depth n] <key> <file>...  Resolve a key through map files
  version                                  Show version information
  help                                     Show this help message

Files for resolve are given as <number>=<path>, with a :map suffix for
map files. Resolution starts at the first file.

Keys may contain hex escapes such as \x00.

Examples:
  staticmap-cli dump 000012.sst
  staticmap-cli get 000012.sst "user\x0042"
  staticmap-cli resolve user42 30=000030.sst:map 12=000012.sst

`)
}

func commandFlags(name string) (*flag.FlagSet, *bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	verbose := fs.Bool("v", false, "log debug output")
	return fs, verbose
}

func loggerFor(verbose bool) *slog.Logger {
	if verbose {
		return staticmap.DebugLogger()
	}
	return staticmap.DefaultLogger()
}

// loadIndex builds a static map index from one table file.
func loadIndex(path string, logger *slog.Logger) (*staticmap.Index, error) {
	r, err := sstable.Open(path, &sstable.ReaderOptions{VerifyChecksums: true, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open sstable: %v", err)
	}
	defer r.Close()

	opts := staticmap.DefaultOptions()
	opts.Logger = logger
	opts.VerifyOrder = true
	x, err := staticmap.New(opts)
	if err != nil {
		return nil, err
	}
	if err := x.Build(r.NewIterator()); err != nil {
		return nil, fmt.Errorf("failed to index %s: %w", path, err)
	}
	return x, nil
}

func dumpCommand(args []string) error {
	fs, verbose := commandFlags("dump")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("dump command requires an sstable path")
	}

	x, err := loadIndex(fs.Arg(0), loggerFor(*verbose))
	if err != nil {
		return err
	}
	defer x.Release()

	fmt.Printf("Records: %d\n\n", x.Len())
	return x.Dump(os.Stdout)
}

func getCommand(args []string) error {
	fs, verbose := commandFlags("get")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("get command requires an sstable path and a key")
	}

	x, err := loadIndex(fs.Arg(0), loggerFor(*verbose))
	if err != nil {
		return err
	}
	defer x.Release()

	key := keys.UserKey(decodeKey(fs.Arg(1)))
	id := x.GetIndex(key)
	if id == staticmap.NotFound {
		return fmt.Errorf("key %s not found", formatKey(key, 50))
	}

	pk, err := keys.ParseInternalKey(x.GetKey(id))
	if err != nil {
		return err
	}
	fmt.Printf("Record: %d\n", id)
	fmt.Printf("Key:    %s\n", pk)
	value := x.GetValue(id)
	if m, err := staticmap.DecodeMapElement(value); err == nil {
		fmt.Printf("Map:    %s\n", m)
	}
	fmt.Printf("Value:  %s\n", formatValue(value, 200))
	return nil
}

func statsCommand(args []string) error {
	fs, verbose := commandFlags("stats")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("stats command requires at least one sstable path")
	}
	logger := loggerFor(*verbose)

	fmt.Printf("%-40s %10s %12s %12s\n", "SSTable", "Records", "Index size", "File size")
	var indexes []*staticmap.Index
	defer func() {
		for _, x := range indexes {
			x.Release()
		}
	}()
	for _, path := range fs.Args() {
		x, err := loadIndex(path, logger)
		if err != nil {
			return err
		}
		indexes = append(indexes, x)

		var fileSize int64
		if info, err := os.Stat(path); err == nil {
			fileSize = info.Size()
		}
		fmt.Printf("%-40s %10d %12s %12s\n", path, x.Len(), formatBytes(uint64(x.Size())), formatBytes(uint64(fileSize)))
	}
	fmt.Printf("\nTotal index memory: %s\n", formatBytes(uint64(staticmap.MemoryUsage())))
	return nil
}

func resolveCommand(args []string) error {
	fs, verbose := commandFlags("resolve")
	depth := fs.Int("depth", 8, "maximum number of map files to pass through")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("resolve command requires a key and at least one file")
	}

	specs := make([]gc.FileSpec, 0, fs.NArg()-1)
	for _, arg := range fs.Args()[1:] {
		spec, err := parseFileSpec(arg)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	opts := gc.DefaultOptions()
	opts.Logger = loggerFor(*verbose)
	opts.MaxDepth = *depth
	r, err := gc.New(opts)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.LoadFiles(context.Background(), specs); err != nil {
		return err
	}

	key := keys.UserKey(decodeKey(fs.Arg(0)))
	res, err := r.Resolve(specs[0].Number, key)
	if err != nil {
		return fmt.Errorf("key %s: %w", formatKey(key, 50), err)
	}

	pk, err := keys.ParseInternalKey(res.Key)
	if err != nil {
		return err
	}
	var path []string
	for _, n := range res.Path {
		path = append(path, strconv.FormatUint(n, 10))
	}
	path = append(path, strconv.FormatUint(res.FileNumber, 10))
	fmt.Printf("Path:  %s\n", strings.Join(path, " -> "))
	fmt.Printf("Key:   %s\n", pk)
	fmt.Printf("Value: %s\n", formatValue(res.Value, 200))
	return nil
}

// parseFileSpec parses <number>=<path>[:map].
func parseFileSpec(arg string) (gc.FileSpec, error) {
	num, path, ok := strings.Cut(arg, "=")
	if !ok {
		return gc.FileSpec{}, fmt.Errorf("file %q must look like <number>=<path>", arg)
	}
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return gc.FileSpec{}, fmt.Errorf("invalid file number %q: %v", num, err)
	}
	spec := gc.FileSpec{Number: n, Path: path}
	if p, ok := strings.CutSuffix(path, ":map"); ok {
		spec.Path = p
		spec.Map = true
	}
	return spec, nil
}

// decodeKey turns \xNN escapes into bytes.
func decodeKey(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if i+4 <= len(s) && s[i:i+2] == "\\x" {
			if b, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
				out = append(out, byte(b))
				i += 3
				continue
			}
		}
		out = append(out, s[i])
	}
	return out
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatKey(key []byte, maxLen int) string {
	if len(key) == 0 {
		return "<empty>"
	}

	var sb strings.Builder
	for _, b := range key {
		if b >= 32 && b <= 126 {
			sb.WriteByte(b)
		} else {
			fmt.Fprintf(&sb, "\\x%02x", b)
		}
	}
	str := sb.String()
	if len(str) > maxLen {
		return str[:maxLen-3] + "..."
	}
	return str
}

func formatValue(value []byte, maxLen int) string {
	if len(value) == 0 {
		return "<empty>"
	}
	return formatKey(value, maxLen)
}

// Command safectl is a demonstration CLI over the safe engine: it
// generates a fresh safe image, stores and reads values in password-keyed
// slices, trashes a slice, rerandomizes a whole safe, and inspects block
// occupancy. There is no container object model here and no persistent
// daemon; every invocation loads the image from disk, does one thing, and
// writes it back, the way a key-management one-shot tool would.
package main

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/op/go-logging"
	"github.com/urfave/cli"

	"github.com/pombredanne/pol-1/elgamal"
	"github.com/pombredanne/pol-1/safe"
)

var log = logging.MustGetLogger("safectl")

var stderrFormat = logging.MustStringFormatter(
	`%{color}safectl ▶ %{message}%{color:reset}`,
)

func setupLogging() {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	logging.SetFormatter(stderrFormat)
	leveled := logging.AddModuleLevel(backend)
	switch os.Getenv("SAFECTL_LOG_LEVEL") {
	case "DEBUG":
		leveled.SetLevel(logging.DEBUG, "")
	case "WARNING":
		leveled.SetLevel(logging.WARNING, "")
	case "ERROR":
		leveled.SetLevel(logging.ERROR, "")
	default:
		leveled.SetLevel(logging.INFO, "")
	}
	logging.SetBackend(leveled)
}

func red(s string) string {
	c := color.New(color.FgHiRed)
	c.EnableColor()
	return c.SprintFunc()(s)
}

func green(s string) string {
	c := color.New(color.FgHiGreen)
	c.EnableColor()
	return c.SprintFunc()(s)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, red(fmt.Sprintf(format, args...)))
	os.Exit(1)
}

func openSafe(path string) *safe.Safe {
	f, err := os.Open(path)
	if err != nil {
		fatalf("opening %s: %v", path, err)
	}
	defer f.Close()
	s, err := safe.Load(f)
	if err != nil {
		fatalf("loading %s: %v", path, err)
	}
	return s
}

func writeSafe(path string, s *safe.Safe) {
	f, err := os.Create(path)
	if err != nil {
		fatalf("creating %s: %v", path, err)
	}
	defer f.Close()
	if err := s.Store(f); err != nil {
		fatalf("writing %s: %v", path, err)
	}
}

func baseKeyFromPassword(s *safe.Safe, password string) []byte {
	key, err := s.KeyStretching().Stretch([]byte(password))
	if err != nil {
		fatalf("stretching password: %v", err)
	}
	return key
}

func generateCommand(c *cli.Context) error {
	nblocks := c.Int("n-blocks")
	bits := c.Int("bits")
	bytesPerBlock := c.Int("bytes-per-block")
	if nblocks <= 0 || bits <= 0 || bytesPerBlock < 0 {
		return cli.NewExitError("n-blocks and bits must be positive", 1)
	}

	log.Noticef("searching for a %d-bit safe prime, this can take a while ...", bits)
	gp, err := elgamal.GenerateGroupParams(bits, c.Int("workers"), func(attempts int) {
		if attempts%200 == 0 {
			log.Debugf("%d candidates tried so far", attempts)
		}
	})
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	s, err := safe.Generate(safe.GenerateOptions{
		NBlocks:        nblocks,
		BytesPerBlock:  bytesPerBlock,
		BlockIndexSize: c.Int("block-index-size"),
		SliceSize:      c.Int("slice-size"),
		GroupParams:    &gp,
	})
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	writeSafe(c.Args().First(), s)
	fmt.Println(green(fmt.Sprintf("wrote a %d-block safe to %s", nblocks, c.Args().First())))
	return nil
}

func storeCommand(c *cli.Context) error {
	path := c.Args().Get(0)
	password := c.Args().Get(1)
	value := c.Args().Get(2)
	if path == "" || password == "" {
		return cli.NewExitError("usage: safectl store [--n-blocks N] <safe> <password> <value>", 1)
	}
	nblocks := c.Int("n-blocks")
	if nblocks <= 0 {
		nblocks = 4
	}

	s := openSafe(path)
	baseKey := baseKeyFromPassword(s, password)

	sl, err := s.NewSlice(nblocks)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if err := sl.Store(baseKey, []byte(value), true); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	writeSafe(path, s)
	fmt.Println(green(fmt.Sprintf("stored %d bytes starting at block %d", len(value), sl.FirstIndex)))
	fmt.Println(strconv.Itoa(sl.FirstIndex))
	return nil
}

func readCommand(c *cli.Context) error {
	path := c.Args().Get(0)
	password := c.Args().Get(1)
	firstIndexStr := c.Args().Get(2)
	if path == "" || password == "" || firstIndexStr == "" {
		return cli.NewExitError("usage: safectl read <safe> <password> <first-index>", 1)
	}
	firstIndex, err := strconv.Atoi(firstIndexStr)
	if err != nil {
		return cli.NewExitError("first-index must be an integer", 1)
	}

	s := openSafe(path)
	baseKey := baseKeyFromPassword(s, password)
	value, err := s.ReadSlice(baseKey, firstIndex)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	fmt.Println(string(value))
	return nil
}

func trashCommand(c *cli.Context) error {
	path := c.Args().Get(0)
	password := c.Args().Get(1)
	firstIndexStr := c.Args().Get(2)
	indicesStr := c.Args().Get(3)
	if path == "" || password == "" || firstIndexStr == "" || indicesStr == "" {
		return cli.NewExitError("usage: safectl trash <safe> <password> <first-index> <comma-separated-indices>", 1)
	}
	firstIndex, err := strconv.Atoi(firstIndexStr)
	if err != nil {
		return cli.NewExitError("first-index must be an integer", 1)
	}
	indices, err := parseIndices(indicesStr)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	s := openSafe(path)
	baseKey := baseKeyFromPassword(s, password)
	sl := s.OpenSlice(firstIndex, indices)
	if err := sl.Trash(); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if _, err := s.ReadSlice(baseKey, firstIndex); err == nil {
		return cli.NewExitError("trash did not destroy the slice", 1)
	}
	writeSafe(path, s)
	fmt.Println(green("trashed"))
	return nil
}

func rerandomizeCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.NewExitError("usage: safectl rerandomize <safe>", 1)
	}
	s := openSafe(path)
	stats, err := s.Rerandomize(context.Background(), c.Int("workers"), func(fraction float64) {
		log.Debugf("rerandomize progress: %.1f%%", fraction*100)
	})
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	writeSafe(path, s)
	fmt.Println(green(fmt.Sprintf("rerandomized %d blocks in %s", stats.Blocks, stats.Duration)))
	return nil
}

func inspectCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.NewExitError("usage: safectl inspect <safe>", 1)
	}
	s := openSafe(path)
	claimed := 0
	for i := range s.Blocks {
		if !s.Blocks[i].Free() {
			claimed++
		}
	}
	fmt.Printf("type=%s n-blocks=%d bytes-per-block=%d claimed=%d free-known=%d\n",
		s.Type, s.NBlocks, s.BytesPerBlock, claimed, s.FreeCount())
	return nil
}

func parseIndices(s string) ([]int, error) {
	var out []int
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				v, err := strconv.Atoi(s[start:i])
				if err != nil {
					return nil, fmt.Errorf("bad index list %q: %v", s, err)
				}
				out = append(out, v)
			}
			start = i + 1
		}
	}
	return out, nil
}

func main() {
	setupLogging()
	stdlog.SetFlags(0)

	app := cli.NewApp()
	app.Name = "safectl"
	app.Usage = "inspect and manipulate deniable encrypted block-store safes"
	app.Commands = []cli.Command{
		{
			Name:      "generate",
			Usage:     "create a new empty safe image",
			ArgsUsage: "<path>",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "n-blocks", Value: 1024, Usage: "total number of blocks"},
				cli.IntFlag{Name: "bits", Value: 512, Usage: "group modulus size in bits"},
				cli.IntFlag{Name: "bytes-per-block", Value: 0, Usage: "B: bytes per block (0 = derive from --bits)"},
				cli.IntFlag{Name: "block-index-size", Value: 2, Usage: "I: bytes per block index"},
				cli.IntFlag{Name: "slice-size", Value: 2, Usage: "S: bytes in the slice length prefix"},
				cli.IntFlag{Name: "workers", Value: 0, Usage: "worker count for group-parameter search (0 = NumCPU)"},
			},
			Action: generateCommand,
		},
		{
			Name:      "store",
			Usage:     "store a value under a password-derived key, claiming fresh blocks",
			ArgsUsage: "<path> <password> <value>",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "n-blocks", Value: 4, Usage: "number of blocks to allocate for the new slice"},
			},
			Action: storeCommand,
		},
		{
			Name:      "read",
			Usage:     "read a value by password and first block index",
			ArgsUsage: "<path> <password> <first-index>",
			Action:    readCommand,
		},
		{
			Name:      "trash",
			Usage:     "destroy a known slice's contents",
			ArgsUsage: "<path> <password> <first-index> <indices>",
			Action:    trashCommand,
		},
		{
			Name:      "rerandomize",
			Usage:     "refresh every block's ciphertext without changing its contents",
			ArgsUsage: "<path>",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "workers", Value: 0, Usage: "worker count (0 = NumCPU)"},
			},
			Action: rerandomizeCommand,
		},
		{
			Name:      "inspect",
			Usage:     "print coarse occupancy statistics for a safe image",
			ArgsUsage: "<path>",
			Action:    inspectCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fatalf("%v", err)
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"tagcache-service/api/dto"
)

// stringSlice collects repeated flag values.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ",") }
func (s *stringSlice) Set(val string) error {
	*s = append(*s, val)
	return nil
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "server address")
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	base := strings.TrimRight(*addr, "/")

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	switch cmd {
	case "get":
		cmdGet(client, base, args)
	case "put":
		cmdPut(client, base, args)
	case "del":
		cmdDel(client, base, args)
	case "del-kind":
		cmdDelKind(client, base, args)
	case "invalidate-tag":
		cmdInvalidateTag(client, base, args)
	case "cleanup":
		call(client, http.MethodPost, base+"/api/maintenance/cleanup", nil)
	case "warmup":
		cmdWarmup(client, base, args)
	case "stats":
		call(client, http.MethodGet, base+"/api/stats", nil)
	default:
		fmt.Fprintln(os.Stderr, "unknown command:", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cli [global options] <command> [options]")
	fmt.Fprintln(os.Stderr, "commands: get, put, del, del-kind, invalidate-tag, cleanup, warmup, stats")
}

func cmdGet(client *http.Client, base string, args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	kind := fs.String("kind", "", "entity kind")
	id := fs.String("id", "", "entity id")
	fs.Parse(args)
	if *kind == "" || *id == "" {
		fs.Usage()
		os.Exit(1)
	}

	call(client, http.MethodGet, entryURL(base, *kind, *id), nil)
}

func cmdPut(client *http.Client, base string, args []string) {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	kind := fs.String("kind", "", "entity kind")
	id := fs.String("id", "", "entity id")
	value := fs.String("value", "", "json value")
	ttl := fs.String("ttl", "", "ttl override, e.g. 5m")
	var tags stringSlice
	fs.Var(&tags, "tag", "extra tag (repeatable)")
	fs.Parse(args)
	if *kind == "" || *id == "" || *value == "" {
		fs.Usage()
		os.Exit(1)
	}

	var raw json.RawMessage
	if err := json.Unmarshal([]byte(*value), &raw); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	body, _ := json.Marshal(&dto.EntryRequest{Value: raw, TTL: *ttl, Tags: tags})
	call(client, http.MethodPut, entryURL(base, *kind, *id), body)
}

func cmdDel(client *http.Client, base string, args []string) {
	fs := flag.NewFlagSet("del", flag.ExitOnError)
	kind := fs.String("kind", "", "entity kind")
	id := fs.String("id", "", "entity id")
	fs.Parse(args)
	if *kind == "" || *id == "" {
		fs.Usage()
		os.Exit(1)
	}

	call(client, http.MethodDelete, entryURL(base, *kind, *id), nil)
}

func cmdDelKind(client *http.Client, base string, args []string) {
	fs := flag.NewFlagSet("del-kind", flag.ExitOnError)
	kind := fs.String("kind", "", "entity kind")
	fs.Parse(args)
	if *kind == "" {
		fs.Usage()
		os.Exit(1)
	}

	u := fmt.Sprintf("%s/api/cache/%s", base, url.PathEscape(*kind))
	call(client, http.MethodDelete, u, nil)
}

func cmdInvalidateTag(client *http.Client, base string, args []string) {
	fs := flag.NewFlagSet("invalidate-tag", flag.ExitOnError)
	tag := fs.String("tag", "", "tag name")
	fs.Parse(args)
	if *tag == "" {
		fs.Usage()
		os.Exit(1)
	}

	u := fmt.Sprintf("%s/api/invalidate/tag/%s", base, url.PathEscape(*tag))
	call(client, http.MethodPost, u, nil)
}

func cmdWarmup(client *http.Client, base string, args []string) {
	fs := flag.NewFlagSet("warmup", flag.ExitOnError)
	var entries stringSlice
	fs.Var(&entries, "entry", "kind:id=JSON (repeatable)")
	file := fs.String("file", "", "read a warmup request from a file, - for stdin")
	fs.Parse(args)
	if len(entries) == 0 && *file == "" {
		fs.Usage()
		os.Exit(1)
	}

	var body []byte
	if *file != "" {
		var err error
		if *file == "-" {
			body, err = io.ReadAll(os.Stdin)
		} else {
			body, err = os.ReadFile(*file)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	} else {
		req := dto.WarmupRequest{Entries: make([]dto.WarmupItem, len(entries))}
		for i, e := range entries {
			parts := strings.SplitN(e, "=", 2)
			if len(parts) != 2 {
				fmt.Fprintln(os.Stderr, "entry must be kind:id=JSON")
				os.Exit(1)
			}
			ref := strings.SplitN(parts[0], ":", 2)
			if len(ref) != 2 {
				fmt.Fprintln(os.Stderr, "entry must be kind:id=JSON")
				os.Exit(1)
			}
			var raw json.RawMessage
			if err := json.Unmarshal([]byte(parts[1]), &raw); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			req.Entries[i] = dto.WarmupItem{Kind: ref[0], ID: ref[1], Value: raw}
		}
		body, _ = json.Marshal(&req)
	}

	call(client, http.MethodPost, base+"/api/maintenance/warmup", body)
}

func entryURL(base, kind, id string) string {
	return fmt.Sprintf("%s/api/cache/%s/%s", base, url.PathEscape(kind), url.PathEscape(id))
}

// call sends one request and streams the response body to stdout.
// Anything but 200 prints the server's reason and exits nonzero.
func call(client *http.Client, method, u string, body []byte) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, u, rd)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		fmt.Fprintln(os.Stderr, resp.Status, strings.TrimSpace(string(msg)))
		os.Exit(1)
	}
	io.Copy(os.Stdout, resp.Body)
}

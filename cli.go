package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"campusgallery/gallery"
)

// getServerURL returns the server URL from environment or default
func getServerURL() string {
	u := os.Getenv("SERVER_URL")
	if u == "" {
		u = "http://localhost:3000"
	}
	return strings.TrimRight(u, "/")
}

// cliClient talks to a running node over its HTTP API.
type cliClient struct {
	baseURL string
	http    *http.Client
	out     io.Writer
}

func newCLIClient(baseURL string, out io.Writer) *cliClient {
	return &cliClient{
		baseURL: baseURL,
		// Transactions wait for mining, so requests can take a while.
		http: &http.Client{Timeout: 5 * time.Minute},
		out:  out,
	}
}

// apiError is an error response of the node.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}

func (c *cliClient) do(method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// checkServerHealth checks if the server is running
func (c *cliClient) checkServerHealth() (HealthResponse, error) {
	var h HealthResponse
	err := c.do("GET", "/health", nil, &h)
	return h, err
}

func (c *cliClient) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *cliClient) printArtworks(list []ArtworkView) {
	if len(list) == 0 {
		c.printf("No artworks yet\n")
		return
	}
	for _, a := range list {
		c.printf("#%d  %s  by %s  [%s]  %s\n", a.ID, a.Title, a.Artist, strings.Join(a.Categories, ", "),
			time.Unix(int64(a.Timestamp), 0).Format("2006-01-02 15:04"))
		if len(a.Tags) > 0 {
			c.printf("     tags: %s\n", strings.Join(a.Tags, ", "))
		}
	}
	c.printf("%d artworks\n", len(list))
}

// ArtworkView is the CLI side decoding of an artwork.
type ArtworkView struct {
	ID         uint64   `json:"id"`
	Artist     string   `json:"artist"`
	Title      string   `json:"title"`
	Tags       []string `json:"tags"`
	Categories []string `json:"categories"`
	Timestamp  uint64   `json:"timestamp"`
}

func (c *cliClient) list(refresh bool) error {
	var res struct {
		Artworks []ArtworkView `json:"artworks"`
	}
	method, path := "GET", "/artworks"
	if refresh {
		method, path = "POST", "/artworks/refresh"
	}
	if err := c.do(method, path, nil, &res); err != nil {
		return err
	}
	c.printArtworks(res.Artworks)
	return nil
}

func (c *cliClient) action(path string, body interface{}) error {
	var res struct {
		Message string `json:"message"`
	}
	if err := c.do("POST", path, body, &res); err != nil {
		return err
	}
	c.printf("✓ %s\n", res.Message)
	return nil
}

func (c *cliClient) decrypt(id uint64) error {
	var res struct {
		ID     uint64      `json:"id"`
		Value  json.Number `json:"value"`
		NoData bool        `json:"noData"`
	}
	if err := c.do("POST", fmt.Sprintf("/artworks/%d/decrypt-likes", id), nil, &res); err != nil {
		return err
	}
	if res.NoData {
		c.printf("Artwork #%d: no encrypted likes yet\n", id)
		return nil
	}
	c.printf("Artwork #%d has %s likes\n", id, res.Value)
	return nil
}

func (c *cliClient) rank(category string, decrypt bool) error {
	var res struct {
		Rows []struct {
			ID     uint64      `json:"id"`
			Title  string      `json:"title"`
			Artist string      `json:"artist"`
			Handle string      `json:"handle"`
			Value  json.Number `json:"value"`
		} `json:"rows"`
		NoData bool `json:"noData"`
	}
	path := "/rank/" + url.PathEscape(category)
	method := "GET"
	if decrypt {
		method, path = "POST", path+"/decrypt"
	}
	if err := c.do(method, path, nil, &res); err != nil {
		return err
	}

	name, _ := gallery.CategoryName(category)
	c.printf("Ranking: %s (%s)\n", name, category)
	if len(res.Rows) == 0 {
		c.printf("No artworks in this category\n")
		return nil
	}
	if res.NoData {
		c.printf("No encrypted votes yet\n")
	}
	for i, r := range res.Rows {
		votes := "encrypted"
		if r.Value != "" {
			votes = string(r.Value) + " votes"
		}
		c.printf("%2d. #%d  %s  by %s  %s\n", i+1, r.ID, r.Title, r.Artist, votes)
	}
	return nil
}

func (c *cliClient) mine() error {
	var res struct {
		Artworks []ArtworkView `json:"artworks"`
	}
	if err := c.do("GET", "/me", nil, &res); err != nil {
		return err
	}
	c.printArtworks(res.Artworks)
	return nil
}

func (c *cliClient) state() error {
	var st gallery.State
	if err := c.do("GET", "/state", nil, &st); err != nil {
		return err
	}
	data, _ := json.MarshalIndent(st, "", "  ")
	c.printf("%s\n", data)
	return nil
}

func (c *cliClient) switchNetwork(target string) error {
	req := SwitchRequest{Name: target}
	if id, err := strconv.ParseUint(target, 10, 64); err == nil {
		req = SwitchRequest{ChainID: id}
	}
	var res SwitchResponse
	if err := c.do("POST", "/network/switch", req, &res); err != nil {
		return err
	}
	if !res.Supported || res.State.Contract == nil {
		c.printf("Switched to %s (chain %d): no CampusGallery contract, actions disabled\n", res.Network.Name, res.Network.ChainID)
		return nil
	}
	c.printf("✓ Switched to %s (chain %d), contract %s\n", res.Network.Name, res.Network.ChainID, res.State.Contract.Hex())
	return nil
}

func (c *cliClient) index(q ArtworkQuery) error {
	v := url.Values{}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	if q.Artist != "" {
		v.Set("artist", q.Artist)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/index/artworks"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var res struct {
		Artworks []ArtworkView `json:"artworks"`
	}
	if err := c.do("GET", path, nil, &res); err != nil {
		return err
	}
	c.printArtworks(res.Artworks)
	return nil
}

func (c *cliClient) count() error {
	var res CountResponse
	if err := c.do("GET", "/index/count", nil, &res); err != nil {
		return err
	}
	c.printf("Indexed artworks: %d (index block %d)\n", res.Count, res.Block)
	return nil
}

// parseSubmitArgs reads the upload form from flags. ok is false when no
// flag was given, in which case the stored draft is submitted.
func parseSubmitArgs(args []string) (d gallery.Draft, ok bool, err error) {
	for i := 0; i < len(args); i++ {
		if i+1 >= len(args) {
			return d, false, fmt.Errorf("%s requires a value", args[i])
		}
		value := args[i+1]
		switch args[i] {
		case "--title":
			d.Title = value
		case "--description":
			d.DescriptionHash = value
		case "--file":
			d.FileHash = value
		case "--tags":
			d.Tags = value
		case "--category":
			d.Categories = append(d.Categories, value)
		default:
			return d, false, fmt.Errorf("unknown argument: %s", args[i])
		}
		ok = true
		i++
	}
	return d, ok, nil
}

func parseIndexArgs(args []string) (ArtworkQuery, error) {
	var q ArtworkQuery
	for i := 0; i < len(args); i++ {
		if i+1 >= len(args) {
			return q, fmt.Errorf("%s requires a value", args[i])
		}
		value := args[i+1]
		switch args[i] {
		case "--category":
			q.Category = value
		case "--artist":
			q.Artist = value
		case "--limit":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return q, fmt.Errorf("--limit must be a positive number")
			}
			q.Limit = n
		default:
			return q, fmt.Errorf("unknown argument: %s", args[i])
		}
		i++
	}
	return q, nil
}

func parseID(args []string) (uint64, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("please provide an artwork id")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid artwork id %q", args[0])
	}
	return id, nil
}

// RunCLI runs one CLI command against the node at baseURL and returns the
// process exit code.
func RunCLI(args []string, baseURL string, out io.Writer) int {
	if len(args) == 0 {
		printUsage(out)
		return 0
	}

	c := newCLIClient(baseURL, out)
	command, commandArgs := args[0], args[1:]

	if command == "help" || command == "--help" || command == "-h" {
		printUsage(out)
		return 0
	}
	if _, err := c.checkServerHealth(); err != nil {
		fmt.Fprintf(out, "Error: node is not available at %s: %v\nPlease make sure the node is running (campusgallery serve)\n", baseURL, err)
		return 1
	}

	var err error
	switch command {
	case "list":
		err = c.list(len(commandArgs) > 0 && commandArgs[0] == "--refresh")
	case "like":
		var id uint64
		if id, err = parseID(commandArgs); err == nil {
			err = c.action(fmt.Sprintf("/artworks/%d/like", id), nil)
		}
	case "vote":
		var id uint64
		if id, err = parseID(commandArgs); err == nil {
			if len(commandArgs) < 2 {
				err = fmt.Errorf("please provide a category")
			} else {
				err = c.action(fmt.Sprintf("/artworks/%d/vote", id), VoteRequest{Category: commandArgs[1]})
			}
		}
	case "decrypt":
		var id uint64
		if id, err = parseID(commandArgs); err == nil {
			err = c.decrypt(id)
		}
	case "rank":
		if len(commandArgs) < 1 {
			err = fmt.Errorf("please provide a category")
		} else {
			err = c.rank(commandArgs[0], len(commandArgs) > 1 && commandArgs[1] == "--decrypt")
		}
	case "mine":
		err = c.mine()
	case "forget":
		err = c.action("/session/forget-marks", nil)
	case "submit":
		var (
			d  gallery.Draft
			ok bool
		)
		if d, ok, err = parseSubmitArgs(commandArgs); err == nil {
			var body interface{}
			if ok {
				body = d
			}
			err = c.action("/submit", body)
		}
	case "example":
		var d gallery.Draft
		if err = c.do("POST", "/draft/example", nil, &d); err == nil {
			c.printf("✓ Draft filled with %q, submit it with: campusgallery cli submit\n", d.Title)
		}
	case "mock":
		err = c.action("/mock-upload", nil)
	case "state":
		err = c.state()
	case "switch":
		if len(commandArgs) < 1 {
			err = fmt.Errorf("please provide a network name or chain id")
		} else {
			err = c.switchNetwork(commandArgs[0])
		}
	case "index":
		var q ArtworkQuery
		if q, err = parseIndexArgs(commandArgs); err == nil {
			err = c.index(q)
		}
	case "count":
		err = c.count()
	case "categories":
		var res CategoryResponse
		if err = c.do("GET", "/categories", nil, &res); err == nil {
			for _, cat := range res.Categories {
				c.printf("%-20s %s\n", cat.ID, cat.Name)
			}
		}
	default:
		fmt.Fprintf(out, "Unknown command: %s\n", command)
		printUsage(out)
		return 1
	}

	if err != nil {
		fmt.Fprintf(out, "✗ Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage(out io.Writer) {
	fmt.Fprint(out, `Usage: campusgallery cli <command> [arguments]

Commands:
  list [--refresh]                 List artworks (reload them from the contract with --refresh)
  like <id>                        Like an artwork
  vote <id> <category>             Vote for an artwork in a category
  decrypt <id>                     Decrypt the like count of an artwork
  rank <category> [--decrypt]      Show the ranking of a category
  mine                             List the artworks of the connected account
  forget                           Forget which artworks this account liked and voted for
  submit [--title T] [--description D] [--file F] [--tags "a, b"] [--category C]...
                                   Submit an artwork (the stored draft without flags)
  example                          Fill the draft with the sample artwork
  mock                             Submit a generated sample artwork
  state                            Print the gallery state
  switch <network|chainId>         Select another network
  index [--category C] [--artist A] [--limit N]
                                   Query the artwork index
  count                            Count indexed artworks
  categories                       List the categories

Environment:
  SERVER_URL                       Node URL (default http://localhost:3000)
`)
}

// Package figma fetches design-file metadata for runs that target Figma prototypes.
package figma

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var (
	figmaURL = regexp.MustCompile(`^https?://(www\.)?figma\.com/(file|proto|design)/[a-zA-Z0-9]+`)
	fileKey  = regexp.MustCompile(`figma\.com/(?:file|proto|design)/([a-zA-Z0-9]+)`)
)

// IsFigmaURL reports whether url points at a Figma file or prototype.
func IsFigmaURL(url string) bool {
	return figmaURL.MatchString(url)
}

// FileKey extracts the file key from a Figma URL, or "" when there is none.
func FileKey(url string) string {
	m := fileKey.FindStringSubmatch(url)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// Metadata is the subset of a Figma file kept in a run's semantic context.
type Metadata struct {
	FileKey           string      `json:"file_key"`
	Name              string      `json:"name,omitempty"`
	LastModified      string      `json:"lastModified,omitempty"`
	Version           string      `json:"version,omitempty"`
	Document          *Node       `json:"document,omitempty"`
	Components        []Component `json:"components,omitempty"`
	Styles            []Style     `json:"styles,omitempty"`
	Public            bool        `json:"public,omitempty"`
	MetadataAvailable bool        `json:"metadata_available"`
	Note              string      `json:"note,omitempty"`
	Error             string      `json:"error,omitempty"`
}

// Node is a trimmed document node.
type Node struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Constraints json.RawMessage `json:"constraints,omitempty"`
	LayoutMode  string          `json:"layoutMode,omitempty"`
	Children    []*Node         `json:"children,omitempty"`
}

// Component is a component or component-set definition.
type Component struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Style is a named design token.
type Style struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	StyleType   string `json:"styleType,omitempty"`
}

const (
	maxDepth    = 10
	maxChildren = 50
)

// Client calls the Figma REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client. An empty token yields minimal metadata without network calls.
func NewClient(token string) *Client {
	return &Client{
		baseURL:    "https://api.figma.com",
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL points the client at another API host.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = strings.TrimSuffix(u, "/")
	return c
}

type rawNode struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Constraints json.RawMessage `json:"constraints"`
	LayoutMode  string          `json:"layoutMode"`
	Children    []rawNode       `json:"children"`
}

type rawFile struct {
	Name         string           `json:"name"`
	LastModified string           `json:"lastModified"`
	Version      string           `json:"version"`
	Document     rawNode          `json:"document"`
	Styles       map[string]Style `json:"styles"`
}

// FetchMetadata loads file metadata. API failures are reported inside Metadata.Error so
// callers can still attach what is known; only transport setup errors are returned.
func (c *Client) FetchMetadata(ctx context.Context, key string) (*Metadata, error) {
	if c.token == "" {
		return &Metadata{
			FileKey: key,
			Public:  true,
			Note:    "Figma API token not provided; relying on DOM and accessibility extraction.",
		}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/files/"+key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Figma-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Metadata{FileKey: key, Error: fmt.Sprintf("failed to fetch Figma metadata: %v", err)}, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return &Metadata{FileKey: key, Error: "Figma API token is invalid or lacks permissions"}, nil
	case http.StatusNotFound:
		return &Metadata{FileKey: key, Error: "Figma file not found or not accessible"}, nil
	default:
		return &Metadata{FileKey: key, Error: fmt.Sprintf("Figma API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))}, nil
	}

	var f rawFile
	if err := json.Unmarshal(body, &f); err != nil {
		return &Metadata{FileKey: key, Error: fmt.Sprintf("decode Figma file: %v", err)}, nil
	}

	md := &Metadata{
		FileKey:           key,
		Name:              f.Name,
		LastModified:      f.LastModified,
		Version:           f.Version,
		Document:          trim(&f.Document, 0),
		MetadataAvailable: true,
	}
	collectComponents(&f.Document, &md.Components)
	for id, s := range f.Styles {
		s.ID = id
		md.Styles = append(md.Styles, s)
	}
	return md, nil
}

func trim(n *rawNode, depth int) *Node {
	if depth > maxDepth {
		return nil
	}
	out := &Node{ID: n.ID, Name: n.Name, Type: n.Type, Constraints: n.Constraints, LayoutMode: n.LayoutMode}
	for i := range n.Children {
		if i == maxChildren {
			break
		}
		if c := trim(&n.Children[i], depth+1); c != nil {
			out.Children = append(out.Children, c)
		}
	}
	return out
}

func collectComponents(n *rawNode, out *[]Component) {
	if n.Type == "COMPONENT" || n.Type == "COMPONENT_SET" {
		*out = append(*out, Component{ID: n.ID, Name: n.Name, Type: n.Type, Description: n.Description})
	}
	for i := range n.Children {
		collectComponents(&n.Children[i], out)
	}
}

package firelite

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/firelite/firelite.go/pkg/codec"
	"github.com/firelite/firelite.go/pkg/connection"
	"github.com/firelite/firelite.go/pkg/constants"
	"github.com/firelite/firelite.go/pkg/logger"
)

// DefaultDatabaseID is used when Config.DatabaseID is empty.
const DefaultDatabaseID = "(default)"

// defaultScopes are the OAuth scopes requested when the Config names none.
var defaultScopes = []string{"https://www.googleapis.com/auth/datastore"}

// Config configures a Client. ProjectID is required. A nil TokenSource is
// accepted only for plain-HTTP (local/emulated) endpoints.
type Config struct {
	ProjectID   string
	DatabaseID  string
	Endpoint    string
	TokenSource TokenSource
	Scopes      []string
	HTTPClient  *http.Client
	Logger      logger.Logger
}

// Client is the root handle. It owns the REST gateway, the stream dialer
// and the token cache; all state is per-client, nothing is process-global.
type Client struct {
	projectID  string
	databaseID string

	conn    *connection.RESTConnection
	streams *connection.StreamDialer
	tokens  *tokenCache
	logger  logger.Logger

	closed atomic.Bool
}

// NewClient validates cfg and returns a ready Client. No network call is
// made; the first operation performs the first exchange.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ProjectID == "" {
		return nil, constants.ErrNoProjectID
	}
	if cfg.DatabaseID == "" {
		cfg.DatabaseID = DefaultDatabaseID
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = constants.DefaultEndpoint
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if cfg.TokenSource == nil && u.Scheme != constants.HTTPScheme {
		return nil, fmt.Errorf("a token source is required for endpoint %q (only plain-http local endpoints may omit it)", cfg.Endpoint)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop{}
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = defaultScopes
	}

	c := &Client{
		projectID:  cfg.ProjectID,
		databaseID: cfg.DatabaseID,
		logger:     cfg.Logger,
	}
	if cfg.TokenSource != nil {
		c.tokens = newTokenCache(cfg.TokenSource)
	}

	params := connection.NewConnectionParams{
		BaseURL:      strings.TrimSuffix(cfg.Endpoint, "/"),
		DatabasePath: fmt.Sprintf("projects/%s/databases/%s", cfg.ProjectID, cfg.DatabaseID),
		HTTPClient:   cfg.HTTPClient,
		Token:        &scopedTokenProvider{cache: c.tokens, scopes: cfg.Scopes},
		Logger:       cfg.Logger,
	}
	c.conn = connection.NewRESTConnection(params)
	c.streams = connection.NewStreamDialer(params)
	return c, nil
}

// path is the database resource prefix, projects/{p}/databases/{d}.
func (c *Client) path() string {
	return c.conn.DatabasePath()
}

// documentsPath is the root all document paths hang off.
func (c *Client) documentsPath() string {
	return c.path() + "/documents"
}

// Close marks the client closed. Outstanding iterators and bulk writers keep
// their own lifecycles; new operations fail.
func (c *Client) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *Client) checkOpen() error {
	if c.closed.Load() {
		return constants.ErrClientClosed
	}
	return nil
}

// Collection returns a reference to the collection at a slash-separated
// path with an odd number of segments, rooted at the database.
func (c *Client) Collection(path string) *CollectionRef {
	segs, err := splitPath(path)
	if err == nil && len(segs)%2 == 0 {
		err = fmt.Errorf("collection path %q has an even number of segments", path)
	}
	if err != nil {
		return brokenCollection(c, err)
	}
	return newCollectionRef(c, nil, c.documentsPath(), segs)
}

// Doc returns a reference to the document at a slash-separated path with an
// even number of segments, rooted at the database.
func (c *Client) Doc(path string) *DocumentRef {
	segs, err := splitPath(path)
	if err == nil && len(segs)%2 != 0 {
		err = fmt.Errorf("document path %q has an odd number of segments", path)
	}
	if err != nil {
		return &DocumentRef{err: err}
	}
	return newDocRef(c, nil, c.documentsPath(), segs)
}

// CollectionGroup returns a query over every collection with the given id,
// anywhere in the database.
func (c *Client) CollectionGroup(collectionID string) Query {
	q := Query{
		c:              c,
		parentPath:     c.documentsPath(),
		collectionID:   collectionID,
		allDescendants: true,
	}
	if strings.Contains(collectionID, "/") {
		q.err = fmt.Errorf("collection id %q must not contain '/'", collectionID)
	}
	return q
}

// Collections lists the ids of the database's root collections.
func (c *Client) Collections(ctx context.Context) ([]*CollectionRef, error) {
	return listCollections(ctx, c, nil)
}

// GetAll reads several documents in one batched call. The returned snapshots
// match the order of refs; missing documents yield non-existent snapshots.
func (c *Client) GetAll(ctx context.Context, refs []*DocumentRef) ([]*DocumentSnapshot, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	names := make([]string, len(refs))
	for i, ref := range refs {
		if ref == nil {
			return nil, constants.ErrNilDocRef
		}
		if ref.err != nil {
			return nil, ref.err
		}
		names[i] = ref.Path
	}
	return c.batchGet(ctx, names, refs, "")
}

func (c *Client) batchGet(ctx context.Context, names []string, refs []*DocumentRef, transaction string) ([]*DocumentSnapshot, error) {
	resps, err := c.conn.BatchGet(ctx, &connection.BatchGetRequest{
		Documents:   names,
		Transaction: transaction,
	})
	if err != nil {
		return nil, err
	}

	// The server answers in arbitrary order; match positionally by name.
	byName := make(map[string]*DocumentSnapshot, len(resps))
	for i := range resps {
		r := resps[i]
		switch {
		case r.Found != nil:
			snap, err := newDocumentSnapshot(c, r.Found, r.ReadTime)
			if err != nil {
				return nil, err
			}
			byName[r.Found.Name] = snap
		case r.Missing != "":
			byName[r.Missing] = missingSnapshot(c.docRefFromName(r.Missing), r.ReadTime)
		}
	}

	out := make([]*DocumentSnapshot, len(refs))
	for i, ref := range refs {
		snap, ok := byName[ref.Path]
		if !ok {
			snap = missingSnapshot(ref, "")
		}
		out[i] = snap
	}
	return out, nil
}

// Batch returns an empty atomic write batch.
func (c *Client) Batch() *WriteBatch {
	return &WriteBatch{c: c}
}

// docRefFromName rebuilds a DocumentRef from a full resource name. Used by
// the codec's reference resolver so decoded references stay bound to this
// client.
func (c *Client) docRefFromName(name string) *DocumentRef {
	prefix := c.documentsPath() + "/"
	rel := strings.TrimPrefix(name, prefix)
	if rel == name {
		// A reference into another database. Keep it actionable for path
		// inspection even though this client cannot fetch it.
		return &DocumentRef{Path: name, ID: name[strings.LastIndex(name, "/")+1:], c: c}
	}
	return c.Doc(rel)
}

// decodeOptions are the codec options bound to this client instance.
func (c *Client) decodeOptions() codec.DecodeOptions {
	return codec.DecodeOptions{
		ResolveReference: func(name string) any { return c.docRefFromName(name) },
	}
}

// splitPath validates and splits a slash-separated resource path. Leading
// and trailing slashes are trimmed; nothing else is normalized.
func splitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("empty path")
	}
	segs := strings.Split(trimmed, "/")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("path %q contains an empty segment", path)
		}
	}
	return segs, nil
}

// listCollections pages through the collection ids under parentDoc, or under
// the documents root when parentDoc is nil.
func listCollections(ctx context.Context, c *Client, parentDoc *DocumentRef) ([]*CollectionRef, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	parent := c.documentsPath()
	if parentDoc != nil {
		parent = parentDoc.Path
	}
	var out []*CollectionRef
	pageToken := ""
	for {
		resp, err := c.conn.ListCollectionIDs(ctx, parent, &connection.ListCollectionIDsRequest{
			PageToken: pageToken,
		})
		if err != nil {
			return nil, err
		}
		for _, id := range resp.CollectionIDs {
			out = append(out, newCollectionRef(c, parentDoc, parent, []string{id}))
		}
		if resp.NextPageToken == "" {
			return out, nil
		}
		pageToken = resp.NextPageToken
	}
}

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"streamline/internal/models"
	"streamline/internal/observability/logging"
	"streamline/internal/observability/metrics"
	"streamline/internal/pubsub"
	"streamline/internal/storage"
	"streamline/internal/testsupport"
)

const testIngestToken = "ingest-secret"

type apiFixture struct {
	store   *storage.JSONStore
	bus     *pubsub.MemoryBus
	handler *Handler
	mux     *http.ServeMux
	owner   models.User
	viewer  models.User
	admin   models.User
	channel models.Channel
}

func newAPIFixture(t *testing.T) apiFixture {
	t.Helper()
	store := testsupport.NewStore(t)
	bus := pubsub.NewMemoryBus(pubsub.MemoryConfig{Buffer: 16})
	t.Cleanup(func() { _ = bus.Close() })
	hash, err := bcrypt.GenerateFromPassword([]byte(testIngestToken), bcrypt.MinCost)
	require.NoError(t, err)

	handler := NewHandler(Config{
		Store:           store,
		Bus:             bus,
		Logger:          logging.Discard(),
		Metrics:         metrics.New(),
		IngestTokenHash: string(hash),
	})
	mux := http.NewServeMux()
	handler.Register(mux)

	owner := testsupport.SeedUser(t, store, "owner")
	return apiFixture{
		store:   store,
		bus:     bus,
		handler: handler,
		mux:     mux,
		owner:   owner,
		viewer:  testsupport.SeedUser(t, store, "viewer"),
		admin:   testsupport.SeedUser(t, store, "root", models.RoleAdmin),
		channel: testsupport.SeedChannel(t, store, owner, "Main"),
	}
}

type requestOption func(*http.Request)

func asUser(user models.User) requestOption {
	return func(r *http.Request) { r.Header.Set(UserIDHeader, user.ID) }
}

func withBearer(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withHeader(name, value string) requestOption {
	return func(r *http.Request) { r.Header.Set(name, value) }
}

func (f apiFixture) do(t *testing.T, method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(v)
	default:
		payload, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type dataEnvelope[T any] struct {
	Data   T            `json:"data"`
	Errors []fieldError `json:"errors"`
}

type channelData struct {
	Channel channelResponse `json:"channel"`
}

type streamData struct {
	Stream models.Stream `json:"stream"`
}

func TestStreamKeyIsAFieldLevelRestriction(t *testing.T) {
	f := newAPIFixture(t)
	path := "/api/channels/" + f.channel.ID

	tests := []struct {
		name    string
		opts    []requestOption
		visible bool
	}{
		{name: "anonymous", visible: false},
		{name: "viewer", opts: []requestOption{asUser(f.viewer)}, visible: false},
		{name: "owner", opts: []requestOption{asUser(f.owner)}, visible: true},
		{name: "admin", opts: []requestOption{asUser(f.admin)}, visible: true},
		{name: "ingest", opts: []requestOption{withBearer(testIngestToken)}, visible: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, path, nil, tc.opts...)
			require.Equal(t, http.StatusOK, rec.Code)
			resp := decodeBody[dataEnvelope[channelData]](t, rec)
			assert.Equal(t, f.channel.ID, resp.Data.Channel.ID)
			assert.Equal(t, "Main", resp.Data.Channel.Title)
			if tc.visible {
				require.NotNil(t, resp.Data.Channel.StreamKey)
				assert.Equal(t, f.channel.StreamKey, *resp.Data.Channel.StreamKey)
				assert.Empty(t, resp.Errors)
				return
			}
			assert.Nil(t, resp.Data.Channel.StreamKey)
			require.Len(t, resp.Errors, 1)
			assert.Equal(t, []any{"channel", "streamKey"}, resp.Errors[0].Path)
		})
	}
}

func TestChannelListReportsStreamKeyErrorsPerItem(t *testing.T) {
	f := newAPIFixture(t)
	other := testsupport.SeedUser(t, f.store, "other")
	testsupport.SeedChannel(t, f.store, other, "Other")

	rec := f.do(t, http.MethodGet, "/api/channels", nil, asUser(f.owner))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[dataEnvelope[struct {
		Channels []channelResponse `json:"channels"`
	}]](t, rec)
	require.Len(t, resp.Data.Channels, 2)
	require.Len(t, resp.Errors, 1)

	for i, channel := range resp.Data.Channels {
		if channel.OwnerID == f.owner.ID {
			assert.NotNil(t, channel.StreamKey)
			continue
		}
		assert.Nil(t, channel.StreamKey)
		assert.Equal(t, []any{"channels", float64(i), "streamKey"}, resp.Errors[0].Path)
	}

	rec = f.do(t, http.MethodGet, "/api/channels?owner=other", nil)
	resp = decodeBody[dataEnvelope[struct {
		Channels []channelResponse `json:"channels"`
	}]](t, rec)
	require.Len(t, resp.Data.Channels, 1)
	assert.Equal(t, "Other", resp.Data.Channels[0].Title)

	rec = f.do(t, http.MethodGet, "/api/channels?owner=nobody", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeBody[dataEnvelope[struct {
		Channels []channelResponse `json:"channels"`
	}]](t, rec)
	assert.Empty(t, resp.Data.Channels)
}

func TestChannelByStreamKey(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/channels/by-key", nil,
		withBearer(testIngestToken), withHeader(StreamKeyHeader, f.channel.StreamKey))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[dataEnvelope[channelData]](t, rec)
	assert.Equal(t, f.channel.ID, resp.Data.Channel.ID)

	rec = f.do(t, http.MethodGet, "/api/channels/by-key", nil, withHeader(StreamKeyHeader, "live_unknown"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/channels/by-key", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidCredentialsAreRejected(t *testing.T) {
	f := newAPIFixture(t)
	path := "/api/channels/" + f.channel.ID

	rec := f.do(t, http.MethodGet, path, nil, withHeader(UserIDHeader, "missing-user"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, path, nil, withBearer("wrong-token"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStreamLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	base := "/api/channels/" + f.channel.ID + "/stream/"

	rec := f.do(t, http.MethodPost, base+"start", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, base+"start", nil, asUser(f.viewer))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, base+"start", nil, withBearer(testIngestToken))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	started := decodeBody[dataEnvelope[streamData]](t, rec).Data.Stream
	assert.Nil(t, started.EndedAt)

	rec = f.do(t, http.MethodPost, base+"start", nil, asUser(f.owner))
	assert.Equal(t, http.StatusConflict, rec.Code)
	errResp := decodeBody[errorResponse](t, rec)
	assert.Equal(t, string(models.KindPrecondition), errResp.Kind)

	rec = f.do(t, http.MethodPost, base+"metadata", map[string]any{
		"ingestServer":  "ingest-eu-1",
		"ingestViewers": 12,
		"videoCodec":    "h264",
	}, withBearer(testIngestToken))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	withMetadata := decodeBody[dataEnvelope[streamData]](t, rec).Data.Stream
	require.Len(t, withMetadata.Metadata, 1)
	assert.Equal(t, "h264", withMetadata.Metadata[0].VideoCodec)

	rec = f.do(t, http.MethodPost, base+"metadata", `{"unknownField": 1}`, withBearer(testIngestToken))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, base+"viewers", map[string]any{"viewers": 40}, withBearer(testIngestToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 40, decodeBody[dataEnvelope[streamData]](t, rec).Data.Stream.PeakViewers)

	rec = f.do(t, http.MethodPost, base+"end", nil, withBearer(testIngestToken))
	require.Equal(t, http.StatusOK, rec.Code)
	ended := decodeBody[dataEnvelope[streamData]](t, rec).Data.Stream
	assert.Equal(t, started.ID, ended.ID)
	assert.NotNil(t, ended.EndedAt)

	rec = f.do(t, http.MethodPost, base+"end", nil, withBearer(testIngestToken))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/channels/"+f.channel.ID+"/streams", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	streams := decodeBody[dataEnvelope[struct {
		Streams []models.Stream `json:"streams"`
	}]](t, rec).Data.Streams
	assert.Len(t, streams, 1)
}

func TestCreateAndUpdateChannel(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/channels", map[string]any{"title": "Second"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/channels", map[string]any{"title": "Second"}, asUser(f.viewer))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[dataEnvelope[channelData]](t, rec).Data.Channel
	assert.Equal(t, f.viewer.ID, created.OwnerID)
	require.NotNil(t, created.StreamKey)

	path := "/api/channels/" + f.channel.ID
	rec = f.do(t, http.MethodPatch, path, map[string]any{"title": "Renamed"}, asUser(f.viewer))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPatch, path, map[string]any{"title": nil}, asUser(f.owner))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[errorResponse](t, rec).Fields, "title")

	rec = f.do(t, http.MethodPatch, path, map[string]any{"categoryId": "missing"}, asUser(f.owner))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[errorResponse](t, rec).Fields, "categoryId")

	rec = f.do(t, http.MethodPatch, path, map[string]any{
		"title":     "Renamed",
		"chatRules": []string{"be kind"},
	}, asUser(f.owner))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[dataEnvelope[channelData]](t, rec).Data.Channel
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, []string{"be kind"}, updated.ChatRules)

	rec = f.do(t, http.MethodPost, path+"/stream-key", nil, asUser(f.owner))
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := decodeBody[dataEnvelope[channelData]](t, rec).Data.Channel
	require.NotNil(t, rotated.StreamKey)
	assert.NotEqual(t, f.channel.StreamKey, *rotated.StreamKey)
}

func TestChatAndModerationOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	base := "/api/channels/" + f.channel.ID

	rec := f.do(t, http.MethodPost, base+"/chat", map[string]any{"message": "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/chat", map[string]any{"message": "   "}, asUser(f.viewer))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(models.KindValidation), decodeBody[errorResponse](t, rec).Kind)

	rec = f.do(t, http.MethodPost, base+"/chat", map[string]any{"message": "hello"}, asUser(f.viewer))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = f.do(t, http.MethodPost, base+"/chat", map[string]any{"message": "welcome"}, asUser(f.owner))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/timeouts", map[string]any{"userId": f.owner.ID}, asUser(f.viewer))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, base+"/moderation-log", nil, asUser(f.viewer))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/timeouts", map[string]any{"userId": f.viewer.ID}, asUser(f.owner))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decodeBody[dataEnvelope[struct {
		Entry models.ModerationLogEntry `json:"entry"`
	}]](t, rec).Data.Entry
	assert.Equal(t, models.ModerationActionTimeout, entry.Action)
	assert.Equal(t, f.viewer.ID, entry.TargetID)

	rec = f.do(t, http.MethodGet, base+"/chat", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	messages := decodeBody[dataEnvelope[struct {
		Messages []models.ChatMessage `json:"messages"`
	}]](t, rec).Data.Messages
	require.Len(t, messages, 1)
	assert.Equal(t, "welcome", messages[0].Message)

	rec = f.do(t, http.MethodGet, base+"/moderation-log", nil, asUser(f.owner))
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[dataEnvelope[struct {
		Entries []models.ModerationLogEntry `json:"entries"`
	}]](t, rec).Data.Entries
	assert.Len(t, entries, 1)
}

func TestModeratorEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	base := "/api/channels/" + f.channel.ID + "/moderators"

	rec := f.do(t, http.MethodPost, base, map[string]any{"userId": f.viewer.ID}, asUser(f.viewer))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, base, map[string]any{"userId": f.viewer.ID}, asUser(f.owner))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	channel := decodeBody[dataEnvelope[channelData]](t, rec).Data.Channel
	assert.Equal(t, []string{f.viewer.ID}, channel.ModeratorIDs)

	rec = f.do(t, http.MethodPost, base, map[string]any{"userId": f.viewer.ID}, asUser(f.owner))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[dataEnvelope[channelData]](t, rec).Data.Channel.ModeratorIDs, 1)

	rec = f.do(t, http.MethodDelete, base+"/"+f.viewer.ID, nil, asUser(f.owner))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[dataEnvelope[channelData]](t, rec).Data.Channel.ModeratorIDs)

	rec = f.do(t, http.MethodPost, base, map[string]any{}, asUser(f.owner))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFollowEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	base := "/api/channels/" + f.channel.ID + "/follow"

	rec := f.do(t, http.MethodPost, base, nil, asUser(f.viewer))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, base, nil, asUser(f.viewer))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decodeBody[errorResponse](t, rec)
	assert.Equal(t, string(models.KindValidation), errResp.Kind)
	assert.Contains(t, errResp.Fields, "user")

	rec = f.do(t, http.MethodGet, base, nil, asUser(f.viewer))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[dataEnvelope[struct {
		Following bool `json:"following"`
	}]](t, rec).Data.Following)

	rec = f.do(t, http.MethodGet, "/api/followers?streamer=owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	followers := decodeBody[dataEnvelope[struct {
		Followers []models.Follower `json:"followers"`
	}]](t, rec).Data.Followers
	require.Len(t, followers, 1)
	assert.Equal(t, f.viewer.ID, followers[0].UserID)
	assert.True(t, followers[0].HasNotifications)

	rec = f.do(t, http.MethodGet, "/api/users/viewer/following", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	followed := decodeBody[dataEnvelope[struct {
		Channels []channelResponse `json:"channels"`
	}]](t, rec).Data.Channels
	require.Len(t, followed, 1)
	assert.Equal(t, f.channel.ID, followed[0].ID)

	rec = f.do(t, http.MethodDelete, base, nil, asUser(f.viewer))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, base, nil, asUser(f.viewer))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/subscriptions?user=viewer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[dataEnvelope[struct {
		Subscriptions []models.Subscription `json:"subscriptions"`
	}]](t, rec).Data.Subscriptions)
}

func TestCategoryEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/categories", map[string]any{"name": "Games"}, asUser(f.viewer))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/categories", map[string]any{"name": "Jeux Vidéo"}, asUser(f.admin))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	parent := decodeBody[dataEnvelope[struct {
		Category models.Category `json:"category"`
	}]](t, rec).Data.Category
	assert.Equal(t, "jeux-video", parent.Slug)

	rec = f.do(t, http.MethodPost, "/api/categories", map[string]any{"name": "Speedruns", "parentId": parent.ID}, asUser(f.admin))
	require.Equal(t, http.StatusCreated, rec.Code)
	child := decodeBody[dataEnvelope[struct {
		Category models.Category `json:"category"`
	}]](t, rec).Data.Category

	rec = f.do(t, http.MethodPatch, "/api/categories/"+child.ID, map[string]any{"name": nil}, asUser(f.admin))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[errorResponse](t, rec).Fields, "name")

	rec = f.do(t, http.MethodGet, "/api/categories/"+parent.ID+"/children", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	children := decodeBody[dataEnvelope[struct {
		Categories []models.Category `json:"categories"`
	}]](t, rec).Data.Categories
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)

	rec = f.do(t, http.MethodGet, "/api/categories?tree=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tree := decodeBody[dataEnvelope[struct {
		Categories []models.Category `json:"categories"`
	}]](t, rec).Data.Categories
	require.Len(t, tree, 2)
	assert.Equal(t, parent.ID, tree[0].ID)

	rec = f.do(t, http.MethodPatch, "/api/categories/"+child.ID, map[string]any{"parentId": nil, "name": "Speed Runs"}, asUser(f.admin))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	detached := decodeBody[dataEnvelope[struct {
		Category models.Category `json:"category"`
	}]](t, rec).Data.Category
	assert.Nil(t, detached.ParentID)
	assert.Equal(t, "speed-runs", detached.Slug)

	rec = f.do(t, http.MethodDelete, "/api/categories/"+parent.ID, nil, asUser(f.admin))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/categories/"+parent.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRoutesAndMethods(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/channels/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(models.KindNotFound), decodeBody[errorResponse](t, rec).Kind)

	rec = f.do(t, http.MethodGet, "/api/channels/"+f.channel.ID+"/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/channels", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST", rec.Header().Get("Allow"))
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[struct {
		Status     string            `json:"status"`
		Components []componentStatus `json:"components"`
	}](t, rec)
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Components, 1)
	assert.Equal(t, "datastore", resp.Components[0].Component)
}

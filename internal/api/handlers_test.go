package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/vividverse/vividverse-backend/internal/auth"
	"github.com/vividverse/vividverse-backend/internal/config"
	"github.com/vividverse/vividverse-backend/internal/storage"
	"github.com/vividverse/vividverse-backend/pkg/models"
)

type fakeVideoStore struct {
	records      map[string]*models.VideoRecord
	created      []storage.PlaceholderParams
	deleted      []string
	listErr      error
	createErr    error
	deleteErr    error
	lastListed   string
	lastLimit    int32
	lastStartKey map[string]types.AttributeValue
	listResult   []models.VideoRecord
	listLastKey  map[string]types.AttributeValue
}

func (f *fakeVideoStore) CreatePlaceholder(ctx context.Context, params storage.PlaceholderParams) (*models.VideoRecord, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, params)
	return &models.VideoRecord{
		VideoID: "vid-new",
		OwnerID: params.OwnerID,
		Topic:   params.Topic,
		Variant: params.Variant,
		Status:  models.StatusPending,
	}, nil
}

func (f *fakeVideoStore) GetVideo(ctx context.Context, videoID string) (*models.VideoRecord, error) {
	record, ok := f.records[videoID]
	if !ok {
		return nil, models.ErrVideoNotFound
	}
	return record, nil
}

func (f *fakeVideoStore) ListByOwner(ctx context.Context, ownerID string, limit int32, startKey map[string]types.AttributeValue) ([]models.VideoRecord, map[string]types.AttributeValue, error) {
	if f.listErr != nil {
		return nil, nil, f.listErr
	}
	f.lastListed = ownerID
	f.lastLimit = limit
	f.lastStartKey = startKey
	return f.listResult, f.listLastKey, nil
}

func (f *fakeVideoStore) DeleteVideo(ctx context.Context, videoID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, videoID)
	return nil
}

type fakeAssetRemover struct {
	deleted [][]string
	err     error
}

func (f *fakeAssetRemover) DeleteAssets(ctx context.Context, urls []string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, urls)
	return nil
}

type fakeQueue struct {
	sent []string
	err  error
}

func (f *fakeQueue) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, aws.ToString(params.MessageBody))
	return &sqs.SendMessageOutput{MessageId: aws.String("msg-1")}, nil
}

type fakeRenderStarter struct {
	dispatched chan *models.VideoRecord
	url        string
	err        error
}

func (f *fakeRenderStarter) Dispatch(ctx context.Context, record *models.VideoRecord) (string, error) {
	if f.dispatched != nil {
		f.dispatched <- record
	}
	return f.url, f.err
}

type handlerFixture struct {
	handlers *Handlers
	store    *fakeVideoStore
	assets   *fakeAssetRemover
	queue    *fakeQueue
	renderer *fakeRenderStarter
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	jwtService, err := auth.NewJWTService([]byte("test-secret-that-is-long-enough-0"))
	if err != nil {
		t.Fatalf("failed to create JWT service: %v", err)
	}

	f := &handlerFixture{
		store:    &fakeVideoStore{records: map[string]*models.VideoRecord{}},
		assets:   &fakeAssetRemover{},
		queue:    &fakeQueue{},
		renderer: &fakeRenderStarter{},
	}
	f.handlers = NewHandlers(&HandlersConfig{
		Config: &config.Config{
			Environment: "dev",
			AWS:         config.AWSConfig{SQSQueueURL: "https://sqs.test/queue"},
		},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		VideoRepo:  f.store,
		Assets:     f.assets,
		SQSClient:  f.queue,
		Renderer:   f.renderer,
		JWTService: jwtService,
	})
	return f
}

// authedRequest builds a request whose context carries an authenticated
// username, as the JWT middleware would.
func authedRequest(method, target, body, username string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	return req.WithContext(auth.ContextWithUsername(req.Context(), username))
}

func decodeJSONBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return out
}

func TestLoginHandler(t *testing.T) {
	tests := []struct {
		name       string
		username   string
		password   string
		noAuth     bool
		wantStatus int
	}{
		{name: "valid dev credentials", username: "admin", password: "secret", wantStatus: http.StatusOK},
		{name: "wrong password", username: "admin", password: "nope", wantStatus: http.StatusUnauthorized},
		{name: "missing credentials", noAuth: true, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)

			req := httptest.NewRequest(http.MethodPost, "/login", nil)
			if !tt.noAuth {
				req.SetBasicAuth(tt.username, tt.password)
			}
			rec := httptest.NewRecorder()
			f.handlers.LoginHandler(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				body := decodeJSONBody[map[string]string](t, rec)
				if body["token"] == "" {
					t.Error("successful login returned no token")
				}
			}
		})
	}
}

func TestLoginHandler_MethodNotAllowed(t *testing.T) {
	f := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	f.handlers.LoginHandler(rec, httptest.NewRequest(http.MethodGet, "/login", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestGenerateHandler(t *testing.T) {
	f := newHandlerFixture(t)

	req := authedRequest(http.MethodPost, "/videos/generate",
		`{"topic":"the history of tea","style":"documentary","durationCategory":"60s"}`, "user-1")
	rec := httptest.NewRecorder()
	f.handlers.GenerateHandler(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body: %s", rec.Code, rec.Body.String())
	}

	resp := decodeJSONBody[GenerateResponse](t, rec)
	if resp.VideoID != "vid-new" {
		t.Errorf("VideoID = %q, want vid-new", resp.VideoID)
	}
	if resp.Status != string(models.StatusPending) {
		t.Errorf("Status = %q, want pending", resp.Status)
	}
	if resp.RequestID == "" {
		t.Error("response has no request id")
	}

	if len(f.store.created) != 1 {
		t.Fatalf("created %d records, want 1", len(f.store.created))
	}
	created := f.store.created[0]
	if created.OwnerID != "user-1" || created.Topic != "the history of tea" {
		t.Errorf("placeholder params = %+v", created)
	}
	if created.Variant != models.VariantMultiScene {
		t.Errorf("Variant = %q, want default %q", created.Variant, models.VariantMultiScene)
	}

	if len(f.queue.sent) != 1 {
		t.Fatalf("queued %d messages, want 1", len(f.queue.sent))
	}
	var job models.GenerationJob
	if err := json.Unmarshal([]byte(f.queue.sent[0]), &job); err != nil {
		t.Fatalf("queued message is not a job: %v", err)
	}
	if job.RecordID != "vid-new" || job.OwnerID != "user-1" || job.Topic != "the history of tea" {
		t.Errorf("queued job = %+v", job)
	}
}

func TestGenerateHandler_Validation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "missing topic", body: `{"style":"fun"}`, wantStatus: http.StatusBadRequest},
		{name: "whitespace topic", body: `{"topic":"   "}`, wantStatus: http.StatusBadRequest},
		{name: "unknown variant", body: `{"topic":"tea","variant":"slideshow"}`, wantStatus: http.StatusBadRequest},
		{name: "avatar without avatarId", body: `{"topic":"tea","variant":"avatar"}`, wantStatus: http.StatusBadRequest},
		{name: "avatar with avatarId", body: `{"topic":"tea","variant":"avatar","avatarId":"av-1"}`, wantStatus: http.StatusAccepted},
		{name: "invalid JSON", body: `{`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)

			req := authedRequest(http.MethodPost, "/videos/generate", tt.body, "user-1")
			rec := httptest.NewRecorder()
			f.handlers.GenerateHandler(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestGenerateHandler_MissingIdentity(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/videos/generate", strings.NewReader(`{"topic":"tea"}`))
	rec := httptest.NewRecorder()
	f.handlers.GenerateHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestGenerateHandler_QueueFailure(t *testing.T) {
	f := newHandlerFixture(t)
	f.queue.err = errors.New("sqs is down")

	req := authedRequest(http.MethodPost, "/videos/generate", `{"topic":"tea"}`, "user-1")
	rec := httptest.NewRecorder()
	f.handlers.GenerateHandler(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestListVideosHandler(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.listResult = []models.VideoRecord{
		{VideoID: "vid-2", OwnerID: "user-1", Status: models.StatusCompleted},
		{VideoID: "vid-1", OwnerID: "user-1", Status: models.StatusFailed},
	}
	f.store.listLastKey = map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "VIDEO#vid-1"},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}

	req := authedRequest(http.MethodGet, "/videos?limit=2", "", "user-1")
	rec := httptest.NewRecorder()
	f.handlers.ListVideosHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}

	resp := decodeJSONBody[ListVideosResponse](t, rec)
	if len(resp.Videos) != 2 {
		t.Fatalf("got %d videos, want 2", len(resp.Videos))
	}
	if resp.Videos[0].VideoID != "vid-2" {
		t.Errorf("first video = %q, want vid-2", resp.Videos[0].VideoID)
	}
	if resp.NextCursor == "" {
		t.Fatal("response has no next cursor despite a last evaluated key")
	}
	if f.store.lastListed != "user-1" {
		t.Errorf("listed owner = %q, want user-1", f.store.lastListed)
	}
	if f.store.lastLimit != 2 {
		t.Errorf("limit = %d, want 2", f.store.lastLimit)
	}

	// The cursor from one page must decode into the start key for the next.
	f2 := newHandlerFixture(t)
	req2 := authedRequest(http.MethodGet, "/videos?cursor="+resp.NextCursor, "", "user-1")
	rec2 := httptest.NewRecorder()
	f2.handlers.ListVideosHandler(rec2, req2)

	if rec2.Code != http.StatusOK {
		t.Fatalf("second page status = %d, want 200", rec2.Code)
	}
	startKey := f2.store.lastStartKey
	pk, ok := startKey["PK"].(*types.AttributeValueMemberS)
	if !ok || pk.Value != "VIDEO#vid-1" {
		t.Errorf("start key PK = %+v, want VIDEO#vid-1", startKey["PK"])
	}
}

func TestListVideosHandler_BadInputs(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{name: "limit zero", target: "/videos?limit=0"},
		{name: "limit too large", target: "/videos?limit=51"},
		{name: "limit not a number", target: "/videos?limit=abc"},
		{name: "garbage cursor", target: "/videos?cursor=!!!"},
		{name: "cursor not base64 JSON", target: "/videos?cursor=bm90LWpzb24"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)

			req := authedRequest(http.MethodGet, tt.target, "", "user-1")
			rec := httptest.NewRecorder()
			f.handlers.ListVideosHandler(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestListVideosHandler_EmptyResultIsAnArray(t *testing.T) {
	f := newHandlerFixture(t)

	req := authedRequest(http.MethodGet, "/videos", "", "user-1")
	rec := httptest.NewRecorder()
	f.handlers.ListVideosHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"videos":[]`) {
		t.Errorf("empty listing should serialize as [], got: %s", rec.Body.String())
	}
}

func videoByIDRequest(method, videoID, username string) *http.Request {
	req := authedRequest(method, "/videos/"+videoID, "", username)
	req.SetPathValue("id", videoID)
	return req
}

func TestGetVideo(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.records["vid-1"] = &models.VideoRecord{
		VideoID: "vid-1",
		OwnerID: "user-1",
		Status:  models.StatusCompleted,
		Title:   "The History of Tea",
	}

	rec := httptest.NewRecorder()
	f.handlers.VideoByIDHandler(rec, videoByIDRequest(http.MethodGet, "vid-1", "user-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	record := decodeJSONBody[models.VideoRecord](t, rec)
	if record.Title != "The History of Tea" {
		t.Errorf("Title = %q", record.Title)
	}
}

func TestGetVideo_OwnershipAndMissing(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.records["vid-1"] = &models.VideoRecord{VideoID: "vid-1", OwnerID: "user-1"}

	tests := []struct {
		name     string
		videoID  string
		username string
	}{
		{name: "unknown video", videoID: "vid-404", username: "user-1"},
		{name: "foreign owner reads as not found", videoID: "vid-1", username: "user-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.handlers.VideoByIDHandler(rec, videoByIDRequest(http.MethodGet, tt.videoID, tt.username))

			if rec.Code != http.StatusNotFound {
				t.Errorf("status = %d, want 404", rec.Code)
			}
		})
	}
}

func TestDeleteVideo(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.records["vid-1"] = &models.VideoRecord{
		VideoID:   "vid-1",
		OwnerID:   "user-1",
		Status:    models.StatusCompleted,
		AudioURI:  "https://cdn.test/user-1/vid-1/audio.mp3",
		ImageURIs: []string{"https://cdn.test/user-1/vid-1/image_0.png"},
	}

	rec := httptest.NewRecorder()
	f.handlers.VideoByIDHandler(rec, videoByIDRequest(http.MethodDelete, "vid-1", "user-1"))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204, body: %s", rec.Code, rec.Body.String())
	}
	if len(f.assets.deleted) != 1 {
		t.Fatalf("DeleteAssets called %d times, want 1", len(f.assets.deleted))
	}
	if got := len(f.assets.deleted[0]); got != 2 {
		t.Errorf("deleted %d asset URLs, want 2", got)
	}
	if len(f.store.deleted) != 1 || f.store.deleted[0] != "vid-1" {
		t.Errorf("deleted records = %v, want [vid-1]", f.store.deleted)
	}
}

func TestDeleteVideo_AssetFailureKeepsRecord(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.records["vid-1"] = &models.VideoRecord{VideoID: "vid-1", OwnerID: "user-1"}
	f.assets.err = errors.New("s3 is down")

	rec := httptest.NewRecorder()
	f.handlers.VideoByIDHandler(rec, videoByIDRequest(http.MethodDelete, "vid-1", "user-1"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if len(f.store.deleted) != 0 {
		t.Error("record was deleted despite asset deletion failing")
	}
}

func TestRenderHandler(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.records["vid-1"] = &models.VideoRecord{
		VideoID: "vid-1",
		OwnerID: "user-1",
		Status:  models.StatusCompleted,
	}
	f.renderer.dispatched = make(chan *models.VideoRecord, 1)
	f.renderer.url = "https://renders.test/vid-1.mp4"

	rec := httptest.NewRecorder()
	f.handlers.RenderHandler(rec, videoByIDRequest(http.MethodPost, "vid-1", "user-1"))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body: %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSONBody[RenderResponse](t, rec)
	if resp.Status != "rendering" {
		t.Errorf("Status = %q, want rendering", resp.Status)
	}

	select {
	case record := <-f.renderer.dispatched:
		if record.VideoID != "vid-1" {
			t.Errorf("dispatched record = %q, want vid-1", record.VideoID)
		}
	case <-time.After(time.Second):
		t.Fatal("render was never dispatched")
	}
}

func TestRenderHandler_RequiresCompletedGeneration(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.records["vid-1"] = &models.VideoRecord{
		VideoID: "vid-1",
		OwnerID: "user-1",
		Status:  models.StatusProcessing,
	}

	rec := httptest.NewRecorder()
	f.handlers.RenderHandler(rec, videoByIDRequest(http.MethodPost, "vid-1", "user-1"))

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestRenderHandler_AlreadyRendered(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.records["vid-1"] = &models.VideoRecord{
		VideoID:   "vid-1",
		OwnerID:   "user-1",
		Status:    models.StatusCompleted,
		RenderURL: "https://renders.test/vid-1.mp4",
	}
	f.renderer.dispatched = make(chan *models.VideoRecord, 1)

	rec := httptest.NewRecorder()
	f.handlers.RenderHandler(rec, videoByIDRequest(http.MethodPost, "vid-1", "user-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeJSONBody[map[string]string](t, rec)
	if body["renderUrl"] != "https://renders.test/vid-1.mp4" {
		t.Errorf("renderUrl = %q", body["renderUrl"])
	}
	select {
	case <-f.renderer.dispatched:
		t.Error("an already-rendered video was dispatched again")
	default:
	}
}

func TestCursorRoundTrip(t *testing.T) {
	key := map[string]types.AttributeValue{
		"PK":     &types.AttributeValueMemberS{Value: "VIDEO#vid-9"},
		"SK":     &types.AttributeValueMemberS{Value: "METADATA"},
		"GSI1PK": &types.AttributeValueMemberS{Value: "OWNER#user-1"},
	}

	cursor := encodeCursor(key)
	if cursor == "" {
		t.Fatal("encodeCursor returned empty for a populated key")
	}

	decoded, err := decodeCursor(cursor)
	if err != nil {
		t.Fatalf("decodeCursor failed: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("decoded %d members, want 3", len(decoded))
	}
	got, ok := decoded["GSI1PK"].(*types.AttributeValueMemberS)
	if !ok || got.Value != "OWNER#user-1" {
		t.Errorf("GSI1PK = %+v, want OWNER#user-1", decoded["GSI1PK"])
	}
}

func TestEncodeCursor_Empty(t *testing.T) {
	if got := encodeCursor(nil); got != "" {
		t.Errorf("encodeCursor(nil) = %q, want empty", got)
	}
	key, err := decodeCursor("")
	if err != nil || key != nil {
		t.Errorf("decodeCursor(\"\") = %v, %v, want nil, nil", key, err)
	}
}

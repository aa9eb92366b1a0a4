package services

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/quizforge-backend/internal/domain"
	"github.com/yungbote/quizforge-backend/internal/domain/files"
	"github.com/yungbote/quizforge-backend/internal/domain/jobs"
	"github.com/yungbote/quizforge-backend/internal/domain/users"
	"github.com/yungbote/quizforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/quizforge-backend/internal/platform/aiprov"
	"github.com/yungbote/quizforge-backend/internal/platform/parser"
	"github.com/yungbote/quizforge-backend/internal/platform/qstash"
	"github.com/yungbote/quizforge-backend/internal/platform/ratelimit"
	"github.com/yungbote/quizforge-backend/internal/platform/storage"
)

type fakeFileRepo struct {
	mu    sync.Mutex
	files map[uuid.UUID]*types.File
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{files: map[uuid.UUID]*types.File{}}
}

func (r *fakeFileRepo) Create(dbc dbctx.Context, f *types.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *f
	r.files[f.ID] = &cp
	return nil
}

func (r *fakeFileRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.files[id]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeFileRepo) ListByOwner(dbc dbctx.Context, owner uuid.UUID) ([]*types.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.File
	for _, f := range r.files {
		if f.OwnerUserID == owner {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func applyFileUpdates(f *types.File, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			f.Status = v.(files.Status)
		case "page_count":
			pc := v.(int)
			f.PageCount = &pc
		}
	}
}

func (r *fakeFileRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.files[id]; ok {
		applyFileUpdates(f, updates)
	}
	return nil
}

func (r *fakeFileRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []files.Status, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return false, nil
	}
	for _, s := range disallowed {
		if f.Status == s {
			return false, nil
		}
	}
	applyFileUpdates(f, updates)
	return true, nil
}

func (r *fakeFileRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, id)
	return nil
}

type fakeParsingJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*types.ParsingJob
	// failNextUpdate makes the next UpdateFields call return an error.
	failNextUpdate error
}

func newFakeParsingJobRepo() *fakeParsingJobRepo {
	return &fakeParsingJobRepo{jobs: map[uuid.UUID]*types.ParsingJob{}}
}

func (r *fakeParsingJobRepo) Create(dbc dbctx.Context, j *types.ParsingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *j
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.jobs[j.ID] = &cp
	return nil
}

func (r *fakeParsingJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ParsingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeParsingJobRepo) GetLatestByFile(dbc dbctx.Context, fileID uuid.UUID) (*types.ParsingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *types.ParsingJob
	for _, j := range r.jobs {
		if j.FileID != fileID {
			continue
		}
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func applyParsingUpdates(j *types.ParsingJob, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			j.Status = v.(jobs.ParsingStatus)
		case "error":
			j.Error = v.(string)
		case "parsed_key":
			pk := v.(string)
			j.ParsedKey = &pk
		case "metrics":
			j.Metrics = v.(datatypes.JSON)
		case "queue_message_id":
			id := v.(string)
			j.QueueMessageID = &id
		case "started_at":
			t := v.(time.Time)
			j.StartedAt = &t
		case "completed_at":
			t := v.(time.Time)
			j.CompletedAt = &t
		}
	}
}

func (r *fakeParsingJobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failNextUpdate; err != nil {
		r.failNextUpdate = nil
		return err
	}
	if j, ok := r.jobs[id]; ok {
		applyParsingUpdates(j, updates)
	}
	return nil
}

func (r *fakeParsingJobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []jobs.ParsingStatus, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	for _, s := range disallowed {
		if j.Status == s {
			return false, nil
		}
	}
	applyParsingUpdates(j, updates)
	return true, nil
}

type fakeGenerationJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*types.GenerationJob
}

func newFakeGenerationJobRepo() *fakeGenerationJobRepo {
	return &fakeGenerationJobRepo{jobs: map[uuid.UUID]*types.GenerationJob{}}
}

func (r *fakeGenerationJobRepo) Create(dbc dbctx.Context, j *types.GenerationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *j
	r.jobs[j.ID] = &cp
	return nil
}

func (r *fakeGenerationJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeGenerationJobRepo) GetLatestByFile(dbc dbctx.Context, fileID uuid.UUID) (*types.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *types.GenerationJob
	for _, j := range r.jobs {
		if j.FileID != fileID {
			continue
		}
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func applyGenerationUpdates(j *types.GenerationJob, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			j.Status = v.(jobs.GenerationStatus)
		case "error":
			j.Error = v.(string)
		case "metadata":
			j.Metadata = v.(datatypes.JSON)
		case "queue_message_id":
			id := v.(string)
			j.QueueMessageID = &id
		case "started_at":
			t := v.(time.Time)
			j.StartedAt = &t
		case "completed_at":
			t := v.(time.Time)
			j.CompletedAt = &t
		}
	}
}

func (r *fakeGenerationJobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		applyGenerationUpdates(j, updates)
	}
	return nil
}

func (r *fakeGenerationJobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []jobs.GenerationStatus, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	for _, s := range disallowed {
		if j.Status == s {
			return false, nil
		}
	}
	applyGenerationUpdates(j, updates)
	return true, nil
}

func (r *fakeGenerationJobRepo) IncrementRetry(dbc dbctx.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return 0, nil
	}
	j.RetryCount++
	return j.RetryCount, nil
}

type fakeQuizDocRepo struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*types.QuizDocument
}

func newFakeQuizDocRepo() *fakeQuizDocRepo {
	return &fakeQuizDocRepo{docs: map[uuid.UUID]*types.QuizDocument{}}
}

func (r *fakeQuizDocRepo) Create(dbc dbctx.Context, d *types.QuizDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.docs[d.ID] = &cp
	return nil
}

func (r *fakeQuizDocRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.QuizDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.docs[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeQuizDocRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil
	}
	for k, v := range updates {
		switch k {
		case "topic":
			d.Topic = v.(string)
		case "questions":
			d.Questions = v.(datatypes.JSON)
		}
	}
	return nil
}

type fakeQuizIdxRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.QuizIndex
}

func newFakeQuizIdxRepo() *fakeQuizIdxRepo {
	return &fakeQuizIdxRepo{rows: map[uuid.UUID]*types.QuizIndex{}}
}

func (r *fakeQuizIdxRepo) Create(dbc dbctx.Context, row *types.QuizIndex) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *row
	r.rows[row.ID] = &cp
	return nil
}

func (r *fakeQuizIdxRepo) ListByFile(dbc dbctx.Context, fileID uuid.UUID) ([]*types.QuizIndex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.QuizIndex
	for _, row := range r.rows {
		if row.FileID == fileID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeQuizIdxRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil
	}
	for k, v := range updates {
		if k == "topic" {
			row.Topic = v.(string)
		}
	}
	return nil
}

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}}
}

func (b *fakeBucket) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	if b.putErr != nil {
		return b.putErr
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = raw
	return nil
}

func (b *fakeBucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *fakeBucket) Head(ctx context.Context, key string) (*storage.ObjectAttrs, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &storage.ObjectAttrs{Size: int64(len(raw))}, nil
}

func (b *fakeBucket) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[key]; !ok {
		return storage.ErrObjectNotFound
	}
	delete(b.objects, key)
	return nil
}

func (b *fakeBucket) PublicURL(key string) string {
	return "https://blobs.example.com/" + key
}

type enqueueCall struct {
	req    parser.Request
	jobID  uuid.UUID
	fileID uuid.UUID
}

type fakeParserClient struct {
	mu         sync.Mutex
	outcome    parser.Outcome
	enqueueErr error
	enqueues   []enqueueCall
}

func (c *fakeParserClient) Parse(ctx context.Context, req parser.Request) parser.Outcome {
	return c.outcome
}

func (c *fakeParserClient) Enqueue(ctx context.Context, req parser.Request, jobID, fileID uuid.UUID) (string, error) {
	if c.enqueueErr != nil {
		return "", c.enqueueErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueues = append(c.enqueues, enqueueCall{req: req, jobID: jobID, fileID: fileID})
	return "msg-" + jobID.String(), nil
}

type publishCall struct {
	url  string
	body any
	opts qstash.PublishOptions
}

type fakeGateway struct {
	mu         sync.Mutex
	publishes  []publishCall
	publishErr error
}

func (g *fakeGateway) Publish(ctx context.Context, url string, body any, opts qstash.PublishOptions) (string, error) {
	if g.publishErr != nil {
		return "", g.publishErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.publishes = append(g.publishes, publishCall{url: url, body: body, opts: opts})
	return uuid.New().String(), nil
}

func (g *fakeGateway) VerifySignature(signature, rawURL string, rawBody []byte) bool {
	return true
}

type fakeProvider struct {
	name  string
	out   *aiprov.GenerateOutput
	err   error
	calls int
}

func (p *fakeProvider) Name() string {
	if p.name == "" {
		return "fake"
	}
	return p.name
}

func (p *fakeProvider) GenerateQuiz(ctx context.Context, in aiprov.GenerateInput) (*aiprov.GenerateOutput, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.out, nil
}

func (p *fakeProvider) ValidateResponse(out *aiprov.GenerateOutput) error {
	return aiprov.ValidateQuestions(out.Questions)
}

func (p *fakeProvider) CalculateCost(usage aiprov.Usage) float64 {
	return float64(usage.TotalTokens) / 1000.0
}

type fakeUploadLimiter struct {
	decision ratelimit.Decision
	err      error
}

func (l *fakeUploadLimiter) AllowUpload(ctx context.Context, userID uuid.UUID, tier users.Tier) (ratelimit.Decision, error) {
	if l.err != nil {
		return ratelimit.Decision{}, l.err
	}
	return l.decision, nil
}

type fakeGenerationLimiter struct {
	decision ratelimit.Decision
}

func (l *fakeGenerationLimiter) AllowGeneration(ctx context.Context, userID uuid.UUID, provider string) (ratelimit.Decision, error) {
	return l.decision, nil
}

func allowAll() ratelimit.Decision { return ratelimit.Decision{Allowed: true} }

func dbctxBG() dbctx.Context { return dbctx.New(context.Background()) }

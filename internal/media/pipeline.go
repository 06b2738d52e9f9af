package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/metrics"
	"github.com/aifocusdev/focos-ia-sub000/internal/store"
	"github.com/aifocusdev/focos-ia-sub000/internal/wa"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FailureNote is appended to a message body when its attachment could not
// be retrieved.
const FailureNote = "[attachment could not be retrieved]"

const (
	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = 100 << 20
)

// Fetcher retrieves media from the channel.
type Fetcher interface {
	MediaURL(ctx context.Context, cred wa.Credentials, mediaID string) (*wa.MediaMeta, error)
	Download(ctx context.Context, cred wa.Credentials, url string, maxBytes int64) ([]byte, error)
}

// Integrations resolves integration credentials by internal id.
type Integrations interface {
	Get(ctx context.Context, id int64) (*store.Integration, error)
}

// Store persists attachments and failure notes.
type Store interface {
	InsertAttachment(ctx context.Context, a *store.Attachment) (*store.Attachment, error)
	AppendBodyNote(ctx context.Context, id int64, note string) error
}

// Options tune the pipeline.
type Options struct {
	MaxBytes int64
	Timeout  time.Duration
}

// Pipeline downloads, stores and links inbound media.
type Pipeline struct {
	fetcher      Fetcher
	integrations Integrations
	storage      StorageProvider
	store        Store
	metrics      *metrics.Metrics
	log          *zap.Logger

	maxBytes int64
	timeout  time.Duration
}

func NewPipeline(f Fetcher, in Integrations, sp StorageProvider, s Store, opts Options, m *metrics.Metrics, log *zap.Logger) *Pipeline {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		fetcher:      f,
		integrations: in,
		storage:      sp,
		store:        s,
		metrics:      m,
		log:          log.Named("media"),
		maxBytes:     opts.MaxBytes,
		timeout:      opts.Timeout,
	}
}

// Process stores the media carried by content and links it to msg. Content
// without media is a no-op. Failures never propagate: they are logged and
// the message body gets FailureNote appended once. Returns the attachment,
// or nil when none was created.
func (p *Pipeline) Process(ctx context.Context, msg *store.Message, content wa.Content, integrationID int64) *store.Attachment {
	info, ok := wa.MediaInfo(content)
	if !ok {
		return nil
	}

	att, err := p.run(ctx, msg, info, integrationID)
	if err == nil {
		return att
	}

	var perr *PipelineError
	if !errors.As(err, &perr) {
		perr = &PipelineError{Kind: FailUnknown, Err: err}
	}
	p.metrics.MediaFailure(perr.Kind)
	p.log.Warn("attachment retrieval failed",
		zap.Int64("message_id", msg.ID),
		zap.String("wa_message_id", msg.WAMessageID),
		zap.String("media_id", info.MediaID),
		zap.String("reason", perr.Kind),
		zap.Error(perr.Err))

	// The fetch context may be spent; the annotation must still land.
	noteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.store.AppendBodyNote(noteCtx, msg.ID, FailureNote); err != nil {
		p.log.Error("annotate message failed", zap.Int64("message_id", msg.ID), zap.Error(err))
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, msg *store.Message, info wa.MediaContent, integrationID int64) (*store.Attachment, error) {
	if info.MediaID == "" || info.MimeType == "" {
		return nil, &PipelineError{Kind: FailUnknown, Err: ErrMissingMediaInfo}
	}

	in, err := p.integrations.Get(ctx, integrationID)
	if err != nil {
		return nil, &PipelineError{Kind: FailAuth, Err: fmt.Errorf("resolve integration %d: %w", integrationID, err)}
	}
	cred := wa.CredentialsFor(in)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	meta, err := p.fetcher.MediaURL(ctx, cred, info.MediaID)
	if err != nil {
		return nil, classifyAPI(fmt.Errorf("lookup media: %w", err))
	}
	data, err := p.fetcher.Download(ctx, cred, meta.URL, p.maxBytes)
	if err != nil {
		return nil, classifyAPI(fmt.Errorf("download media: %w", err))
	}

	upload := describe(info, data)
	if err := p.storage.Put(ctx, upload.key, bytes.NewReader(data)); err != nil {
		return nil, &PipelineError{Kind: FailStorage, Err: err}
	}

	url := p.storage.AccessPath(upload.key)
	att := &store.Attachment{
		MessageID:  msg.ID,
		Kind:       upload.kind,
		URL:        url,
		StorageKey: upload.key,
		MimeType:   info.MimeType,
		SizeBytes:  int64(len(data)),
		FileName:   upload.fileName,
		Width:      upload.width,
		Height:     upload.height,
	}
	if upload.kind == store.KindImage {
		att.PreviewURL = url
	}
	saved, err := p.store.InsertAttachment(ctx, att)
	if err != nil {
		// Best effort: the stored file has no row pointing at it.
		_ = p.storage.Delete(context.WithoutCancel(ctx), upload.key)
		return nil, &PipelineError{Kind: FailUnknown, Err: fmt.Errorf("insert attachment: %w", err)}
	}
	p.log.Debug("attachment stored",
		zap.Int64("message_id", msg.ID),
		zap.String("kind", saved.Kind),
		zap.Int64("size", saved.SizeBytes))
	return saved, nil
}

func classifyAPI(err error) error {
	var apiErr *wa.APIError
	if errors.As(err, &apiErr) && apiErr.IsAuth() {
		return &PipelineError{Kind: FailAuth, Err: err}
	}
	return &PipelineError{Kind: FailMediaAPI, Err: err}
}

// ClassifyKind maps a message type to an attachment kind. Anything that is
// not an image, video or audio is a document.
func ClassifyKind(msgType string) string {
	switch msgType {
	case wa.TypeImage:
		return store.KindImage
	case wa.TypeVideo:
		return store.KindVideo
	case wa.TypeAudio:
		return store.KindAudio
	default:
		return store.KindDocument
	}
}

// Folder is the storage folder for an attachment kind.
func Folder(kind string) string {
	return kind + "s"
}

// upload is what gets inferred about a payload before it is stored.
type upload struct {
	key      string
	kind     string
	fileName string
	width    int64
	height   int64
}

func describe(info wa.MediaContent, data []byte) upload {
	u := upload{kind: ClassifyKind(info.Type), fileName: info.Filename}

	ext := strings.ToLower(filepath.Ext(info.Filename))
	if ext == "" {
		base, _, _ := strings.Cut(info.MimeType, ";")
		if exts, err := mime.ExtensionsByType(strings.TrimSpace(base)); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	u.key = Folder(u.kind) + "/" + uuid.NewString() + ext
	if u.fileName == "" {
		u.fileName = filepath.Base(u.key)
	}

	if u.kind == store.KindImage {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			u.width, u.height = int64(cfg.Width), int64(cfg.Height)
		}
	}
	return u
}

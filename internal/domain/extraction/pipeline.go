// Package extraction turns an uploaded lab report into attribute rows and
// hands them to the analysis coordinator, reporting every stage to the
// progress registry.
package extraction

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/medreport/medreport/internal/domain/analysis"
	"github.com/medreport/medreport/internal/domain/progress"
	"github.com/medreport/medreport/internal/platform/apperr"
	"github.com/medreport/medreport/internal/platform/blobstore"
	"github.com/medreport/medreport/internal/platform/genai"
	"github.com/medreport/medreport/internal/platform/ocr"
)

// Stage progress values.
const (
	progressValidating = 10
	progressExtracting = 30
	progressOCR        = 40
	progressParsing    = 50
	progressAnalyzing  = 70
	progressSaving     = 90
)

const tableSystemPrompt = `You convert laboratory report text into a table.
Output only a pipe-separated table with exactly four columns, one test per line:
test_name | value | unit | range
Use an empty cell when a unit or range is missing. Do not add commentary.`

// Saver persists extracted rows and runs the analysis.
type Saver interface {
	SaveAndAnalyze(ctx context.Context, req analysis.SaveRequest) (*analysis.Outcome, error)
}

type Config struct {
	MaxUploadBytes      int64
	CollaboratorTimeout time.Duration
	OCRConcurrency      int
}

// Upload is one document submitted for extraction.
type Upload struct {
	SessionID   string
	PatientID   string
	FileName    string
	Data        []byte
	AutoAnalyze bool
}

type Pipeline struct {
	reg    *progress.Registry
	ocr    ocr.Recognizer
	gen    genai.Generator
	saver  Saver
	blobs  blobstore.Store
	cfg    Config
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewPipeline builds a pipeline. blobs may be nil, in which case uploads are
// not archived.
func NewPipeline(reg *progress.Registry, recognizer ocr.Recognizer, gen genai.Generator, saver Saver,
	blobs blobstore.Store, cfg Config, logger zerolog.Logger) *Pipeline {
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = 60 * time.Second
	}
	if cfg.OCRConcurrency < 1 {
		cfg.OCRConcurrency = 1
	}
	return &Pipeline{
		reg:    reg,
		ocr:    recognizer,
		gen:    gen,
		saver:  saver,
		blobs:  blobs,
		cfg:    cfg,
		logger: logger.With().Str("component", "extraction").Logger(),
	}
}

// Start runs the upload in its own goroutine, detached from the caller's
// cancellation. Run registers the session if the caller has not.
func (p *Pipeline) Start(ctx context.Context, u Upload) {
	ctx = context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.Run(ctx, u)
	}()
}

// Wait blocks until every started run has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Run drives one upload to COMPLETE or FAILED. It never panics.
func (p *Pipeline) Run(ctx context.Context, u Upload) {
	log := p.logger.With().Str("session_id", u.SessionID).Str("file_name", u.FileName).Logger()
	p.reg.CreateOwnedSession(u.SessionID, u.FileName, u.PatientID)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("extraction panicked")
			p.reg.FailSession(u.SessionID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := p.run(ctx, u, log); err != nil {
		s, _ := p.reg.GetSession(u.SessionID)
		ev := log.Error().Err(err).Str("stage", string(s.Stage))
		if s.Method != nil {
			ev = ev.Str("method", string(*s.Method))
		}
		ev.Msg("extraction failed")
		p.reg.FailSession(u.SessionID, err.Error())
	}
}

func (p *Pipeline) run(ctx context.Context, u Upload, log zerolog.Logger) error {
	p.stage(log, u.SessionID, progress.StageValidating, progressValidating, "Validating document", nil)
	kind, err := DetectKind(u.FileName, u.Data, p.cfg.MaxUploadBytes)
	if err != nil {
		return err
	}
	var doc *model.Context
	if kind == KindPDF {
		if doc, err = OpenPDF(u.Data); err != nil {
			return apperr.InvalidInput("invalid pdf: %v", err)
		}
	}

	p.archive(ctx, u, kind, log)

	var attrs []analysis.Attribute
	method := progress.MethodFastExtraction
	if doc != nil {
		p.stage(log, u.SessionID, progress.StageExtracting, progressExtracting, "Extracting text", &method)
		lines, err := PageLines(doc)
		if err != nil {
			log.Warn().Err(err).Msg("fast extraction failed, falling back to OCR")
		}
		attrs = RowsFromLines(lines)
	}

	if len(attrs) == 0 {
		method = progress.MethodOCRLLMFallback
		if attrs, err = p.fallback(ctx, u, kind, doc, log); err != nil {
			return err
		}
	}

	analyze := u.AutoAnalyze && len(attrs) > 0
	if !analyze {
		p.stage(log, u.SessionID, progress.StageSaving, progressSaving, "Saving results", &method)
	}
	out, err := p.saver.SaveAndAnalyze(ctx, analysis.SaveRequest{
		PatientID:   u.PatientID,
		FileName:    u.FileName,
		Method:      string(method),
		Attributes:  attrs,
		AutoAnalyze: u.AutoAnalyze,
		OnStage: func(ph analysis.Phase) {
			switch ph {
			case analysis.PhaseAnalyzing:
				p.stage(log, u.SessionID, progress.StageLLMAnalyzing, progressAnalyzing, "Analyzing results", &method)
			case analysis.PhaseSaving:
				p.stage(log, u.SessionID, progress.StageSaving, progressSaving, "Saving results", &method)
			}
		},
	})
	if err != nil {
		return err
	}

	p.reg.CompleteSession(u.SessionID, map[string]any{
		"patient_id":            out.PatientID,
		"report_id":             out.ReportID.String(),
		"tests_stored":          out.TestsStored,
		"llm_analysis_complete": out.AnalysisComplete,
		"method":                string(method),
	})
	log.Info().
		Str("method", string(method)).
		Int("tests_stored", out.TestsStored).
		Bool("llm_analysis_complete", out.AnalysisComplete).
		Msg("extraction complete")
	return nil
}

// fallback recognizes text with OCR and has the generator tabulate it.
func (p *Pipeline) fallback(ctx context.Context, u Upload, kind Kind, doc *model.Context, log zerolog.Logger) ([]analysis.Attribute, error) {
	method := progress.MethodOCRLLMFallback
	p.stage(log, u.SessionID, progress.StageOCRProcessing, progressOCR, "Recognizing text", &method)

	var images [][]byte
	if kind.IsImage() {
		images = [][]byte{u.Data}
	} else {
		found, err := pageImages(doc)
		if err != nil {
			return nil, apperr.InvalidInput("read page images: %v", err)
		}
		for _, img := range found {
			images = append(images, img.data)
		}
	}

	text, err := p.recognize(ctx, images)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" && !kind.IsImage() {
		log.Info().Msg("no text recognized")
		return nil, nil
	}

	p.stage(log, u.SessionID, progress.StageLLMParsing, progressParsing, "Reading values", &method)
	req := genai.Request{
		System:      tableSystemPrompt,
		Prompt:      "Report text:\n" + text,
		Temperature: 0,
	}
	if kind.IsImage() {
		req.Image = &genai.Image{MIMEType: kind.MIMEType(), Data: u.Data}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CollaboratorTimeout)
	defer cancel()
	reply, err := p.gen.Generate(callCtx, req)
	if err != nil {
		return nil, apperr.Collaborator(err, "tabulate report text")
	}
	return ParseTable(reply), nil
}

// recognize runs OCR over images with bounded parallelism and joins the
// results in input order.
func (p *Pipeline) recognize(ctx context.Context, images [][]byte) (string, error) {
	texts := make([]string, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.OCRConcurrency)
	for i, img := range images {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, p.cfg.CollaboratorTimeout)
			defer cancel()
			text, err := p.ocr.Recognize(callCtx, img)
			if err != nil {
				return apperr.Collaborator(err, fmt.Sprintf("ocr image %d", i+1))
			}
			texts[i] = strings.TrimSpace(text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Join(texts, "\n\n")), nil
}

// archive stores the original bytes. Failures are logged only.
func (p *Pipeline) archive(ctx context.Context, u Upload, kind Kind, log zerolog.Logger) {
	if p.blobs == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CollaboratorTimeout)
	defer cancel()

	key := blobstore.ReportKey(u.PatientID, u.SessionID, u.FileName)
	if _, err := p.blobs.Put(callCtx, key, kind.MIMEType(), u.Data); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("archive upload failed")
	}
}

func (p *Pipeline) stage(log zerolog.Logger, id string, stage progress.Stage, pct int, msg string, method *progress.Method) {
	ev := log.Debug().Str("stage", string(stage)).Int("progress", pct)
	if method != nil {
		ev = ev.Str("method", string(*method))
	}
	ev.Msg("stage transition")
	p.reg.UpdateProgress(id, stage, pct, msg, method, nil)
}

package daemon

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"forest/internal/api"
	"forest/internal/approval"
	"forest/internal/config"
	"forest/internal/logging"
	"forest/internal/pipeline"
	"forest/internal/queue"
)

// apiServer exposes the daemon's HTTP surface: scan submission, job and
// pipeline status, the approval gate, and gallery management.
type apiServer struct {
	cfg      *config.Config
	daemon   *Daemon
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
	group    *errgroup.Group
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if strings.TrimSpace(cfg.Paths.APIBind) == "" {
		return nil, errors.New("api bind address is required")
	}

	s := &apiServer{
		cfg:    cfg,
		daemon: d,
		logger: logging.NewComponentLogger(logger, "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/scans", s.handleScans)
	mux.HandleFunc("/api/scans/", s.handleScanItem)
	mux.HandleFunc("/api/pipeline/status", s.handlePipelineStatus)
	mux.HandleFunc("/api/approvals", s.handleApprove)
	mux.HandleFunc("/api/approvals/discard", s.handleDiscard)
	mux.HandleFunc("/api/spawn", s.handleSpawn)
	mux.HandleFunc("/api/entities/clear", s.handleEntitiesClear)
	mux.HandleFunc("/api/gallery", s.handleGallery)
	mux.HandleFunc("/api/gallery/clear", s.handleGalleryClear)
	mux.HandleFunc("/api/gallery/delete_many", s.handleGalleryDeleteMany)
	mux.HandleFunc("/api/gallery/", s.handleGalleryItem)
	mux.HandleFunc("/api/health", s.handleHealth)

	corsWrapper := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	})

	// The write timeout must outlast the longest permitted long-poll.
	writeTimeout := time.Duration(cfg.API.LongPollMaxSeconds+15) * time.Second
	s.server = &http.Server{
		Addr:              cfg.Paths.APIBind,
		Handler:           corsWrapper.Handler(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("bind api listener: %w", err)
	}
	s.listener = listener
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	s.group, _ = errgroup.WithContext(ctx)
	s.group.Go(func() error {
		if serveErr := s.server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("api server terminated", logging.Error(serveErr))
			return serveErr
		}
		return nil
	})
	s.logger.Info("api listening", logging.String("addr", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api shutdown", logging.Error(err))
	}
	if s.group != nil {
		_ = s.group.Wait()
	}
}

func (s *apiServer) handleScans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}

	// Base64 inflates the payload by a third; double the configured cap to
	// leave room for the JSON envelope.
	maxBytes := int64(s.cfg.API.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes*2)

	var req api.SubmitScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, string(queue.KindValidation), "invalid JSON body: "+err.Error())
		return
	}

	imageBytes, err := decodeImageData(req.ImageData)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, string(queue.KindValidation), err.Error())
		return
	}
	if int64(len(imageBytes)) > maxBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, string(queue.KindValidation),
			fmt.Sprintf("image exceeds %d MB limit", s.cfg.API.MaxUploadMB))
		return
	}

	inputPath := filepath.Join(s.cfg.IncomingDir(), uuid.NewString()+".png")
	if err := os.WriteFile(inputPath, imageBytes, 0o644); err != nil {
		s.logger.Error("write incoming image", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "", "could not store submitted image")
		return
	}

	job, err := s.daemon.store.NewScan(r.Context(), queue.NewScanParams{
		InputReference: inputPath,
		OwnerName:      req.OwnerName,
		CreatorName:    req.CreatorName,
		PhoneNumber:    req.PhoneNumber,
		RequestedClass: queue.Classification(strings.ToLower(strings.TrimSpace(req.Type))),
	})
	if err != nil {
		_ = os.Remove(inputPath)
		s.writeDomainError(w, err)
		return
	}
	s.daemon.worker.NotifyWork()

	total, position, err := s.daemon.store.QueuePosition(r.Context(), job.ID)
	if err != nil {
		s.logger.Warn("queue position lookup failed", logging.Error(err),
			logging.String(logging.FieldJobID, job.ID))
	}
	s.logger.Info("scan enqueued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldEventType, "scan_enqueued"),
		logging.Int("queue_position", position),
	)
	s.writeJSON(w, http.StatusAccepted, api.SubmitScanResponse{
		JobID:         job.ID,
		QueuePosition: position,
		QueueTotal:    total,
	})
}

func (s *apiServer) handleScanItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/scans/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, string(queue.KindNotFound), "unknown resource")
		return
	}

	job, err := s.daemon.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, string(queue.KindNotFound), fmt.Sprintf("job %s does not exist", id))
		return
	}

	resp := api.JobStatusResponse{
		JobID:         job.ID,
		Status:        string(job.Status),
		Progress:      job.Progress,
		Message:       job.Message,
		RequestedType: string(job.RequestedClass),
		DetectedType:  string(job.DetectedClass),
		ArtifactName:  job.FinalArtifactName,
		Error:         job.ErrorDetail,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
	}
	if job.Status == queue.StatusReadyForReview && job.PreviewReference != "" {
		resp.PreviewURL = "/preview/" + filepath.Base(job.PreviewReference)
	}
	if total, position, posErr := s.daemon.store.QueuePosition(r.Context(), job.ID); posErr == nil {
		resp.QueueTotal = total
		resp.QueuePosition = position
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}

	query := r.URL.Query()
	wait := query.Get("wait") == "1" || strings.EqualFold(query.Get("wait"), "true")
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)

	var snapshot pipeline.Snapshot
	if wait {
		timeoutSeconds, err := strconv.Atoi(query.Get("timeout"))
		if err != nil || timeoutSeconds < 1 {
			timeoutSeconds = 1
		}
		if timeoutSeconds > s.cfg.API.LongPollMaxSeconds {
			timeoutSeconds = s.cfg.API.LongPollMaxSeconds
		}
		snapshot = s.daemon.publisher.AwaitChange(r.Context(), since, time.Duration(timeoutSeconds)*time.Second)
	} else {
		snapshot = s.daemon.publisher.Current()
	}

	resp := api.PipelineStatusResponse{
		State:          string(snapshot.State),
		Progress:       snapshot.Progress,
		Message:        snapshot.Message,
		DetectedType:   string(snapshot.DetectedClass),
		JobID:          snapshot.JobID,
		Version:        snapshot.Version,
		ActiveEntities: s.daemon.publisher.EntityCount(),
	}
	if snapshot.PreviewReference != "" {
		resp.PreviewURL = "/preview/" + filepath.Base(snapshot.PreviewReference)
	}
	if summary, err := s.daemon.store.Summary(r.Context()); err == nil {
		resp.QueueTotal = summary.Queued + summary.Active + summary.InReview
		resp.QueueWaiting = summary.Queued
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}
	var req api.ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, string(queue.KindValidation), "invalid JSON body: "+err.Error())
		return
	}

	artifact, err := s.daemon.gate.Approve(r.Context(), approval.ApproveParams{
		JobID:       req.JobID,
		Class:       queue.Classification(strings.ToLower(strings.TrimSpace(req.Type))),
		Name:        req.Name,
		CreatorName: req.CreatorName,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := api.ApproveResponse{
		JobID:    artifact.JobID,
		FileName: artifact.FileName,
		URL:      artifact.URLPath,
	}
	for _, entity := range s.daemon.publisher.Entities() {
		if entity.ArtifactName == artifact.FileName {
			resp.Entity = toAPIEntity(entity)
			break
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}
	var req api.DiscardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, string(queue.KindValidation), "invalid JSON body: "+err.Error())
		return
	}

	job, err := s.daemon.gate.Discard(r.Context(), approval.DiscardParams{
		JobID:  req.JobID,
		Reason: req.Reason,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.DiscardResponse{JobID: job.ID, Status: string(job.Status)})
}

func (s *apiServer) handleSpawn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}
	var req api.SpawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, string(queue.KindValidation), "invalid JSON body: "+err.Error())
		return
	}

	entity, err := s.daemon.gate.Spawn(approval.SpawnParams{
		Class: queue.Classification(strings.ToLower(strings.TrimSpace(req.Type))),
		Name:  req.Name,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SpawnResponse{Entity: toAPIEntity(entity)})
}

func (s *apiServer) handleEntitiesClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}
	cleared := s.daemon.publisher.ClearEntities()
	s.republishSnapshot()
	s.logger.Info("active entities cleared", logging.Int("count", cleared))
	s.writeJSON(w, http.StatusOK, api.ClearEntitiesResponse{Cleared: cleared})
}

func (s *apiServer) handleGallery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	artifacts, err := s.daemon.store.ListArtifacts(r.Context(), queue.ArtifactFilter{
		OwnerName:   r.URL.Query().Get("owner"),
		PhoneNumber: r.URL.Query().Get("phone"),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := api.GalleryResponse{Items: make([]api.GalleryItem, 0, len(artifacts))}
	for _, artifact := range artifacts {
		resp.Items = append(resp.Items, api.GalleryItem{
			FileName:    artifact.FileName,
			URL:         artifact.URLPath,
			Type:        string(artifact.Class),
			OwnerName:   artifact.OwnerName,
			CreatorName: artifact.CreatorName,
			PhoneNumber: artifact.PhoneNumber,
			JobID:       artifact.JobID,
			CreatedAt:   artifact.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleGalleryItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.methodNotAllowed(w, r)
		return
	}
	fileName := filepath.Base(strings.TrimPrefix(r.URL.Path, "/api/gallery/"))
	if fileName == "" || fileName == "." || fileName == "/" {
		s.writeError(w, http.StatusBadRequest, string(queue.KindValidation), "artifact file name is required")
		return
	}

	artifact, err := s.daemon.store.GetArtifactByFileName(r.Context(), fileName)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if artifact == nil {
		s.writeError(w, http.StatusNotFound, string(queue.KindNotFound), fmt.Sprintf("artifact %s does not exist", fileName))
		return
	}

	if removeErr := os.Remove(filepath.Join(s.cfg.Paths.GalleryDir, fileName)); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
		s.logger.Warn("remove gallery file", logging.Error(removeErr), logging.String("artifact", fileName))
	}
	if _, err := s.daemon.store.DeleteArtifact(r.Context(), fileName); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if removed := s.daemon.publisher.RemoveEntityByArtifact(fileName); removed > 0 {
		s.republishSnapshot()
	}
	s.logger.Info("artifact deleted",
		logging.String(logging.FieldEventType, "artifact_deleted"),
		logging.String("artifact", fileName),
	)
	s.writeJSON(w, http.StatusOK, api.DeleteArtifactResponse{Deleted: fileName})
}

func (s *apiServer) handleGalleryClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}

	names, err := s.daemon.store.ArtifactFileNames(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	for _, name := range names {
		if removeErr := os.Remove(filepath.Join(s.cfg.Paths.GalleryDir, name)); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
			s.logger.Warn("remove gallery file", logging.Error(removeErr), logging.String("artifact", name))
		}
	}
	deleted, err := s.daemon.store.DeleteArtifacts(r.Context(), names)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	cleared := s.daemon.publisher.ClearEntities()
	s.republishSnapshot()
	s.logger.Info("gallery cleared",
		logging.String(logging.FieldEventType, "gallery_cleared"),
		logging.Int64("deleted", deleted),
		logging.Int("entities_cleared", cleared),
	)
	s.writeJSON(w, http.StatusOK, api.ClearGalleryResponse{
		Deleted:         int(deleted),
		EntitiesCleared: cleared,
	})
}

func (s *apiServer) handleGalleryDeleteMany(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, r)
		return
	}
	var req api.DeleteArtifactsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, string(queue.KindValidation), "invalid JSON body: "+err.Error())
		return
	}
	names := make([]string, 0, len(req.FileNames))
	for _, raw := range req.FileNames {
		name := filepath.Base(strings.TrimSpace(raw))
		if name == "" || name == "." || name == "/" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		s.writeError(w, http.StatusBadRequest, string(queue.KindValidation), "filenames is required")
		return
	}

	entitiesRemoved := 0
	for _, name := range names {
		if removeErr := os.Remove(filepath.Join(s.cfg.Paths.GalleryDir, name)); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
			s.logger.Warn("remove gallery file", logging.Error(removeErr), logging.String("artifact", name))
		}
		entitiesRemoved += s.daemon.publisher.RemoveEntityByArtifact(name)
	}
	deleted, err := s.daemon.store.DeleteArtifacts(r.Context(), names)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if entitiesRemoved > 0 {
		s.republishSnapshot()
	}
	s.logger.Info("artifacts deleted",
		logging.String(logging.FieldEventType, "artifacts_deleted"),
		logging.Int64("deleted", deleted),
	)
	s.writeJSON(w, http.StatusOK, api.DeleteArtifactsResponse{Deleted: int(deleted)})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	status := s.daemon.worker.CurrentStatus()
	resp := api.HealthResponse{
		OK:            status.Running,
		WorkerRunning: status.Running,
		WorkerError:   status.LastError,
	}
	if summary, err := s.daemon.store.Summary(r.Context()); err == nil {
		resp.QueueTotal = summary.Total
		resp.QueueWaiting = summary.Queued
		resp.QueueInReview = summary.InReview
		resp.QueueFailed = summary.Failed
		resp.QueueDone = summary.Done
	} else {
		resp.OK = false
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// republishSnapshot bumps the snapshot version without changing its fields
// so long-poll clients refetch the entity list.
func (s *apiServer) republishSnapshot() {
	current := s.daemon.publisher.Current()
	s.daemon.publisher.Publish(pipeline.Update{
		State:            current.State,
		Progress:         current.Progress,
		Message:          current.Message,
		PreviewReference: current.PreviewReference,
		DetectedClass:    current.DetectedClass,
		JobID:            current.JobID,
	})
}

// decodeImageData accepts raw base64 or a data URL and returns the image
// bytes.
func decodeImageData(data string) ([]byte, error) {
	trimmed := strings.TrimSpace(data)
	if trimmed == "" {
		return nil, queue.NewValidationError("image_data is required")
	}
	if idx := strings.Index(trimmed, ","); idx >= 0 && strings.HasPrefix(trimmed, "data:") {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' {
			return -1
		}
		return r
	}, trimmed)

	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, queue.NewValidationError("image_data is not valid base64")
	}
	if len(decoded) == 0 {
		return nil, queue.NewValidationError("image_data decodes to an empty payload")
	}
	return decoded, nil
}

func toAPIEntity(entity pipeline.Entity) api.Entity {
	return api.Entity{
		ID:           entity.ID,
		Name:         entity.Name,
		Type:         string(entity.Class),
		ArtifactName: entity.ArtifactName,
		CreatedAt:    entity.CreatedAt,
	}
}

func (s *apiServer) writeDomainError(w http.ResponseWriter, err error) {
	kind := queue.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case queue.KindValidation:
		status = http.StatusBadRequest
	case queue.KindNotFound:
		status = http.StatusNotFound
	case queue.KindConflict:
		status = http.StatusConflict
	case queue.KindPersistence:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", logging.Error(err))
	}
	s.writeError(w, status, string(kind), err.Error())
}

func (s *apiServer) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusMethodNotAllowed, "", fmt.Sprintf("method %s not allowed", r.Method))
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, kind, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Kind: kind})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", logging.Error(err))
	}
}

// Package syncworker is the Pub/Sub-triggered function that runs one
// incremental activity sync for a user: change detection, bounded
// download and conversion, archive merge and tile publication.
package syncworker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/cloudevents/sdk-go/v2/event"
	"golang.org/x/oauth2"

	shared "github.com/tracktiles/server/pkg"
	"github.com/tracktiles/server/pkg/bootstrap"
	syncdomain "github.com/tracktiles/server/pkg/domain/sync"
	"github.com/tracktiles/server/pkg/domain/tiles"
	"github.com/tracktiles/server/pkg/framework"
	"github.com/tracktiles/server/pkg/infrastructure/oauth"
	ps "github.com/tracktiles/server/pkg/infrastructure/pubsub"
	"github.com/tracktiles/server/pkg/integrations/intervals"
)

var (
	svc     *bootstrap.Service
	svcOnce sync.Once
	svcErr  error
)

func init() {
	functions.CloudEvent("SyncActivities", SyncActivities)
}

func initService(ctx context.Context) (*bootstrap.Service, error) {
	svcOnce.Do(func() {
		svc, svcErr = bootstrap.NewService(ctx)
	})
	return svc, svcErr
}

// SyncActivities is the entry point.
func SyncActivities(ctx context.Context, e event.Event) error {
	svc, err := initService(ctx)
	if err != nil {
		return fmt.Errorf("service init failed: %w", err)
	}
	return framework.WrapCloudEvent("sync-worker", svc, syncHandler(nil))(ctx, e)
}

// syncHandler contains the business logic. newCatalog can be injected
// for testing; nil uses the real intervals.icu client.
func syncHandler(newCatalog func(accessToken, athleteID string) syncdomain.Catalog) framework.HandlerFunc {
	if newCatalog == nil {
		newCatalog = func(accessToken, athleteID string) syncdomain.Catalog {
			return intervals.NewTokenClient(accessToken, athleteID)
		}
	}

	return func(ctx context.Context, e event.Event, fwCtx *framework.Context) error {
		var msg ps.MessagePublishedData
		if err := e.DataAs(&msg); err != nil {
			return fmt.Errorf("decoding event envelope: %w", err)
		}

		var req ps.SyncRequestedEvent
		if err := json.Unmarshal(msg.Message.Data, &req); err != nil {
			return fmt.Errorf("decoding sync request: %w", err)
		}
		if req.UserID == "" || req.SyncID == "" {
			return fmt.Errorf("sync request missing user_id or sync_id")
		}

		svc := fwCtx.Service
		logger := fwCtx.Logger.With("sync_id", req.SyncID)

		user, err := svc.DB.GetUser(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("loading user %s: %w", req.UserID, err)
		}

		status := syncdomain.NewStatusUpdater(svc.DB, req.UserID, req.SyncID, logger)
		status.Initialize(ctx)

		tokens := oauth.NewPersistingTokenSource(svc.DB, intervalsOAuthConfig(), user, logger)
		token, err := tokens.Token(ctx)
		if err != nil {
			status.MarkFailed("authorization expired")
			status.Flush()
			return fmt.Errorf("obtaining access token: %w", err)
		}

		catalog := newCatalog(token.AccessToken, user.AthleteID)
		syncer := syncdomain.NewSyncer(req.UserID, catalog, svc.Store, svc.Config.ActivityBucket, status, logger)

		result, err := syncer.Run(ctx)
		if err != nil {
			return fmt.Errorf("sync run: %w", err)
		}

		completed := ps.SyncCompletedEvent{
			UserID:     req.UserID,
			SyncID:     req.SyncID,
			Downloaded: result.Stats.Downloaded,
			Skipped:    result.Stats.Skipped,
			Empty:      result.Stats.Empty,
			Failed:     result.Stats.Failed,
		}

		if result.Changed {
			generator := &tiles.Generator{Path: svc.Config.TippecanoePath, Logger: logger}
			tilesPath, err := generator.Generate(ctx, result.GeoJSONPath)
			if err != nil {
				status.MarkFailed("tile generation failed")
				status.Flush()
				return fmt.Errorf("generating tiles: %w", err)
			}

			uploader := &tiles.Uploader{
				Store:  svc.Store,
				DB:     svc.DB,
				Bucket: svc.Config.TilesBucket,
				Logger: logger,
			}
			key, err := uploader.Upload(ctx, req.UserID, tilesPath)
			if err != nil {
				status.MarkFailed("tile upload failed")
				status.Flush()
				return fmt.Errorf("uploading tiles: %w", err)
			}
			completed.TilesKey = key
		}

		publishCompleted(ctx, svc, logger, &completed)
		notifyUser(ctx, svc, logger, user, result)

		status.MarkCompleted()
		status.Flush()
		return nil
	}
}

func intervalsOAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     os.Getenv("INTERVALS_CLIENT_ID"),
		ClientSecret: os.Getenv("INTERVALS_CLIENT_SECRET"),
		Endpoint:     intervals.OAuthEndpoint,
		Scopes:       []string{intervals.OAuthScope},
	}
}

func publishCompleted(ctx context.Context, svc *bootstrap.Service, logger *slog.Logger, completed *ps.SyncCompletedEvent) {
	data, err := json.Marshal(completed)
	if err != nil {
		logger.Warn("Failed to encode completion event", "error", err)
		return
	}
	if _, err := svc.Pub.Publish(ctx, shared.TopicSyncCompleted, data); err != nil {
		logger.Warn("Failed to publish completion event", "error", err)
	}
}

func notifyUser(ctx context.Context, svc *bootstrap.Service, logger *slog.Logger, user *shared.UserRecord, result *syncdomain.Result) {
	if len(user.FCMTokens) == 0 {
		return
	}

	body := "Your map is up to date."
	if result.Changed {
		body = fmt.Sprintf("%d new activities added to your map.", result.Stats.Downloaded)
	}

	nctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := svc.Notify.SendPushNotification(nctx, user.ID, "Sync complete", body, user.FCMTokens, nil); err != nil {
		logger.Warn("Failed to send push notification", "error", err)
	}
}

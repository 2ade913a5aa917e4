package cleanup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tcriess/burnbox/globals"
	"github.com/tcriess/burnbox/objstore"
	"github.com/tcriess/burnbox/store"
	"github.com/tcriess/burnbox/types"
)

// Reconciler is the periodic sweep correcting drift between the object store
// and the metadata store. Metadata is the authority: any object whose room
// record or drop session is gone is an orphan and gets deleted. The sweep
// never aborts on a single failed item, it logs and moves on.
type Reconciler struct {
	store   store.Store
	objects objstore.ObjectStore

	cron *cron.Cron
}

func NewReconciler(st store.Store, objects objstore.ObjectStore) *Reconciler {
	return &Reconciler{
		store:   st,
		objects: objects,
	}
}

// Start schedules the sweep on the given interval, optionally running one
// sweep immediately. Overlapping runs are skipped, not queued.
func (r *Reconciler) Start(interval time.Duration, runOnStart bool) error {
	if r.objects == nil {
		globals.AppLogger.Info("no object store configured, reconciler disabled")
		return nil
	}
	if runOnStart {
		go r.Sweep(context.Background())
	}
	r.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	_, err := r.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		r.Sweep(context.Background())
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// Sweep runs both sweeps back to back.
func (r *Reconciler) Sweep(ctx context.Context) {
	started := time.Now()
	roomOrphans := r.sweepRooms(ctx)
	dropOrphans := r.sweepDrops(ctx)
	globals.AppLogger.Info("cleanup sweep done",
		"room_orphans", roomOrphans, "drop_orphans", dropOrphans,
		"took", time.Since(started))
}

// sweepRooms groups every room-scoped object by its embedded room hash and
// batch-deletes the groups whose room record no longer exists. Returns the
// number of objects removed.
func (r *Reconciler) sweepRooms(ctx context.Context) int {
	keys, err := r.objects.ListPrefix(ctx, objstore.RoomsRoot)
	if err != nil {
		globals.AppLogger.Error("could not list room objects", "error", err)
		return 0
	}
	byRoom := make(map[string][]string)
	for _, key := range keys {
		roomHash, ok := objstore.RoomHashFromKey(key)
		if !ok {
			globals.AppLogger.Warn("unexpected object key below rooms prefix", "key", key)
			continue
		}
		byRoom[roomHash] = append(byRoom[roomHash], key)
	}
	removed := 0
	for roomHash, group := range byRoom {
		exists, err := r.store.Exists(ctx, store.RoomKey(roomHash))
		if err != nil {
			globals.AppLogger.Warn("could not check room existence, skipping group", "room", roomHash, "error", err)
			continue
		}
		if exists {
			continue
		}
		if err := r.objects.DeleteBatch(ctx, group); err != nil {
			globals.AppLogger.Error("could not delete orphaned room objects", "room", roomHash, "error", err)
			continue
		}
		// orphaned metadata records of the dead room go with the objects
		r.deleteFileRecords(ctx, roomHash)
		removed += len(group)
	}
	return removed
}

func (r *Reconciler) deleteFileRecords(ctx context.Context, roomHash string) {
	var metaKeys []string
	err := r.store.Scan(ctx, store.FilePattern(roomHash), func(key string) bool {
		metaKeys = append(metaKeys, key)
		return true
	})
	if err != nil {
		globals.AppLogger.Warn("could not scan file metadata", "room", roomHash, "error", err)
		return
	}
	if len(metaKeys) == 0 {
		return
	}
	if err := r.store.Delete(ctx, metaKeys...); err != nil {
		globals.AppLogger.Warn("could not delete file metadata", "room", roomHash, "error", err)
	}
}

// sweepDrops walks every drop-scoped object and searches the sessions under
// its hash prefix for one that references that exact object key. Objects no
// live session points at are deleted; the sessions themselves self-expire via
// their store TTL and are never touched here. An unexpired session with no
// file attached may be attaching an object right now (the upload writes the
// object before the session references it), so its whole prefix bucket is
// left alone until the next sweep.
func (r *Reconciler) sweepDrops(ctx context.Context) int {
	keys, err := r.objects.ListPrefix(ctx, objstore.DropsRoot)
	if err != nil {
		globals.AppLogger.Error("could not list drop objects", "error", err)
		return 0
	}
	removed := 0
	for _, key := range keys {
		prefix, ok := objstore.DropPrefixFromKey(key)
		if !ok {
			globals.AppLogger.Warn("unexpected object key below drops prefix", "key", key)
			continue
		}
		inUse, err := r.dropObjectInUse(ctx, prefix, key)
		if err != nil {
			globals.AppLogger.Warn("could not check drop sessions, skipping object", "key", key, "error", err)
			continue
		}
		if inUse {
			continue
		}
		if err := r.objects.Delete(ctx, key); err != nil {
			globals.AppLogger.Error("could not delete orphaned drop object", "key", key, "error", err)
			continue
		}
		removed++
	}
	return removed
}

func (r *Reconciler) dropObjectInUse(ctx context.Context, hashPrefix, objectKey string) (bool, error) {
	inUse := false
	err := r.store.Scan(ctx, store.DropPattern(hashPrefix), func(key string) bool {
		raw, err := r.store.Get(ctx, key)
		if err != nil {
			// the session may have expired between scan and read, keep looking
			return true
		}
		session := types.DropSession{}
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			globals.AppLogger.Warn("skipping undecodable drop session", "key", key, "error", err)
			return true
		}
		if session.ObjectKey == objectKey {
			inUse = true
			return false
		}
		// a live session without a file may be mid-upload of this very object
		if !session.HasFile() && !session.Expired(time.Now()) {
			inUse = true
			return false
		}
		return true
	})
	return inUse, err
}

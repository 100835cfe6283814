package characters

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testStore(t *testing.T) *CharacterStore {
	t.Helper()

	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := db.AutoMigrate(&Character{}, &imageRow{}, &videoRow{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return NewCharacterStore(db)
}

func createTestCharacter(t *testing.T, store *CharacterStore, userID uint64, name string) *Character {
	t.Helper()
	character := &Character{
		UserID:      userID,
		Name:        name,
		Slug:        Slugify(name),
		Personality: "calm and collected",
		Appearance:  "short dark hair",
	}
	if err := store.Create(context.Background(), character); err != nil {
		t.Fatalf("create character %q: %v", name, err)
	}
	return character
}

func TestCreateAndFindCharacter(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	created := createTestCharacter(t, store, 1, "Sakura Haruno")
	if created.ID == 0 {
		t.Fatal("created character has zero id")
	}

	found, err := store.FindByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if found.Slug != "sakura-haruno" {
		t.Fatalf("slug = %q, want %q", found.Slug, "sakura-haruno")
	}

	bySlug, err := store.FindBySlug(ctx, 1, "sakura-haruno")
	if err != nil {
		t.Fatalf("FindBySlug returned error: %v", err)
	}
	if bySlug.ID != created.ID {
		t.Fatalf("FindBySlug id = %d, want %d", bySlug.ID, created.ID)
	}
}

func TestFindCharacterNotFound(t *testing.T) {
	store := testStore(t)

	if _, err := store.FindByID(context.Background(), 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByID error = %v, want ErrNotFound", err)
	}
	if _, err := store.FindBySlug(context.Background(), 1, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindBySlug error = %v, want ErrNotFound", err)
	}
}

func TestCreateCharacterSlugConflict(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	createTestCharacter(t, store, 1, "Rei")

	duplicate := &Character{UserID: 1, Name: "Rei", Slug: "rei"}
	if err := store.Create(ctx, duplicate); !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("Create duplicate error = %v, want ErrSlugTaken", err)
	}

	// Same slug under a different user is allowed.
	other := &Character{UserID: 2, Name: "Rei", Slug: "rei"}
	if err := store.Create(ctx, other); err != nil {
		t.Fatalf("Create for other user returned error: %v", err)
	}
}

func TestListByUserScoping(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	createTestCharacter(t, store, 1, "Alpha")
	createTestCharacter(t, store, 1, "Beta")
	createTestCharacter(t, store, 2, "Gamma")

	mine, err := store.ListByUser(ctx, 1)
	if err != nil {
		t.Fatalf("ListByUser returned error: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("ListByUser(1) returned %d characters, want 2", len(mine))
	}
	for _, character := range mine {
		if character.UserID != 1 {
			t.Fatalf("ListByUser(1) leaked character of user %d", character.UserID)
		}
	}

	empty, err := store.ListByUser(ctx, 42)
	if err != nil {
		t.Fatalf("ListByUser returned error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("ListByUser(42) returned %d characters, want 0", len(empty))
	}
}

func TestUpdateCharacter(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	created := createTestCharacter(t, store, 1, "Old Name")

	updated, err := store.Update(ctx, created.ID, map[string]interface{}{
		"name": "New Name",
		"slug": Slugify("New Name"),
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.Name != "New Name" || updated.Slug != "new-name" {
		t.Fatalf("updated character = %q/%q", updated.Name, updated.Slug)
	}

	if _, err := store.Update(ctx, 9999, map[string]interface{}{"name": "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update missing error = %v, want ErrNotFound", err)
	}
}

func TestUpdateCharacterSlugConflict(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	createTestCharacter(t, store, 1, "Taken")
	victim := createTestCharacter(t, store, 1, "Other")

	if _, err := store.Update(ctx, victim.ID, map[string]interface{}{
		"name": "Taken",
		"slug": "taken",
	}); !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("Update conflict error = %v, want ErrSlugTaken", err)
	}
}

func TestDeleteCharacterCascades(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	character := createTestCharacter(t, store, 1, "Doomed")

	rows := []interface{}{
		&imageRow{CharacterID: character.ID, ObjectKey: "media/images/1.webp"},
		&imageRow{CharacterID: character.ID, ObjectKey: "media/images/2.webp"},
		&videoRow{CharacterID: character.ID, ObjectKey: "media/videos/1.mp4"},
	}
	for _, row := range rows {
		if err := store.db.WithContext(ctx).Create(row).Error; err != nil {
			t.Fatalf("seed media row: %v", err)
		}
	}

	keys, err := store.Delete(ctx, character.ID)
	if err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("Delete returned %d object keys, want 3", len(keys))
	}

	if _, err := store.FindByID(ctx, character.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("character still present after delete: %v", err)
	}

	images, videos, err := store.MediaCounts(ctx, character.ID)
	if err != nil {
		t.Fatalf("MediaCounts returned error: %v", err)
	}
	if images != 0 || videos != 0 {
		t.Fatalf("media rows survived delete: %d images, %d videos", images, videos)
	}
}

func TestDeleteCharacterNotFound(t *testing.T) {
	store := testStore(t)

	if _, err := store.Delete(context.Background(), 12345); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete missing error = %v, want ErrNotFound", err)
	}
}

func TestSetThumbnail(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	character := createTestCharacter(t, store, 1, "Portrait")
	image := &imageRow{CharacterID: character.ID, ObjectKey: "media/images/1/a.webp"}
	if err := store.db.WithContext(ctx).Create(image).Error; err != nil {
		t.Fatalf("seed image row: %v", err)
	}

	if err := store.SetThumbnail(ctx, character.ID, image.ID); err != nil {
		t.Fatalf("SetThumbnail returned error: %v", err)
	}

	updated, err := store.FindByID(ctx, character.ID)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if updated.ThumbnailImageID == nil || *updated.ThumbnailImageID != image.ID {
		t.Fatalf("thumbnail image id = %v, want %d", updated.ThumbnailImageID, image.ID)
	}
}

func TestSetThumbnailRejectsForeignImage(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	character := createTestCharacter(t, store, 1, "Mine")
	other := createTestCharacter(t, store, 1, "Theirs")
	image := &imageRow{CharacterID: other.ID, ObjectKey: "media/images/2/b.webp"}
	if err := store.db.WithContext(ctx).Create(image).Error; err != nil {
		t.Fatalf("seed image row: %v", err)
	}

	if err := store.SetThumbnail(ctx, character.ID, image.ID); !errors.Is(err, ErrThumbnailImageNotFound) {
		t.Fatalf("SetThumbnail error = %v, want ErrThumbnailImageNotFound", err)
	}
	if err := store.SetThumbnail(ctx, character.ID, 9999); !errors.Is(err, ErrThumbnailImageNotFound) {
		t.Fatalf("SetThumbnail missing image error = %v, want ErrThumbnailImageNotFound", err)
	}
}

func TestThumbnailKeys(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	character := createTestCharacter(t, store, 1, "Keyed")
	first := &imageRow{CharacterID: character.ID, ObjectKey: "media/images/1/first.webp"}
	second := &imageRow{CharacterID: character.ID, ObjectKey: "media/images/1/second.webp"}
	for _, row := range []*imageRow{first, second} {
		if err := store.db.WithContext(ctx).Create(row).Error; err != nil {
			t.Fatalf("seed image row: %v", err)
		}
	}

	keys, err := store.ThumbnailKeys(ctx, []uint64{first.ID, second.ID, 9999})
	if err != nil {
		t.Fatalf("ThumbnailKeys returned error: %v", err)
	}
	if len(keys) != 2 || keys[first.ID] != "media/images/1/first.webp" {
		t.Fatalf("ThumbnailKeys = %v", keys)
	}

	empty, err := store.ThumbnailKeys(ctx, nil)
	if err != nil {
		t.Fatalf("ThumbnailKeys(nil) returned error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("ThumbnailKeys(nil) = %v, want empty", empty)
	}
}

func TestMediaCountsByCharacter(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	first := createTestCharacter(t, store, 1, "First")
	second := createTestCharacter(t, store, 1, "Second")

	seed := []interface{}{
		&imageRow{CharacterID: first.ID, ObjectKey: "media/images/a.webp"},
		&imageRow{CharacterID: first.ID, ObjectKey: "media/images/b.webp"},
		&videoRow{CharacterID: second.ID, ObjectKey: "media/videos/c.mp4"},
	}
	for _, row := range seed {
		if err := store.db.WithContext(ctx).Create(row).Error; err != nil {
			t.Fatalf("seed media row: %v", err)
		}
	}

	images, videos, err := store.MediaCountsByCharacter(ctx, []uint64{first.ID, second.ID})
	if err != nil {
		t.Fatalf("MediaCountsByCharacter returned error: %v", err)
	}
	if images[first.ID] != 2 || images[second.ID] != 0 {
		t.Fatalf("image counts = %v", images)
	}
	if videos[first.ID] != 0 || videos[second.ID] != 1 {
		t.Fatalf("video counts = %v", videos)
	}
}

func TestMediaCounts(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	character := createTestCharacter(t, store, 1, "Counted")
	if err := store.db.WithContext(ctx).Create(&imageRow{CharacterID: character.ID, ObjectKey: "media/images/a.webp"}).Error; err != nil {
		t.Fatalf("seed image row: %v", err)
	}

	images, videos, err := store.MediaCounts(ctx, character.ID)
	if err != nil {
		t.Fatalf("MediaCounts returned error: %v", err)
	}
	if images != 1 || videos != 0 {
		t.Fatalf("MediaCounts = %d images, %d videos", images, videos)
	}
}

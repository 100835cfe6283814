package images

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testStore(t *testing.T) *ImageStore {
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

	if err := db.AutoMigrate(&CharacterImage{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Exec("CREATE TABLE character_videos (id INTEGER PRIMARY KEY, source_image_id INTEGER)").Error; err != nil {
		t.Fatalf("create video table: %v", err)
	}
	if err := db.Exec("CREATE TABLE characters (id INTEGER PRIMARY KEY, thumbnail_image_id INTEGER)").Error; err != nil {
		t.Fatalf("create character table: %v", err)
	}

	return NewImageStore(db)
}

func seedImage(t *testing.T, store *ImageStore, characterID, userID uint64, objectKey string) *CharacterImage {
	t.Helper()
	image := &CharacterImage{
		CharacterID: characterID,
		UserID:      userID,
		ObjectKey:   objectKey,
		Prompt:      "pink hair, green eyes",
		AspectRatio: "1:1",
		Width:       1024,
		Height:      1024,
		ModelID:     text2ImgModelID,
	}
	if err := store.Create(context.Background(), image); err != nil {
		t.Fatalf("seed image: %v", err)
	}
	return image
}

func TestCreateAndFindImage(t *testing.T) {
	store := testStore(t)

	created := seedImage(t, store, 1, 10, "media/images/1/a.webp")
	if created.ID == 0 {
		t.Fatal("created image has zero id")
	}

	found, err := store.FindByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if found.ObjectKey != "media/images/1/a.webp" {
		t.Fatalf("object key = %q", found.ObjectKey)
	}
}

func TestFindImageNotFound(t *testing.T) {
	store := testStore(t)

	if _, err := store.FindByID(context.Background(), 777); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByID error = %v, want ErrNotFound", err)
	}
}

func TestListByCharacterScoping(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	seedImage(t, store, 1, 10, "media/images/1/a.webp")
	seedImage(t, store, 1, 10, "media/images/1/b.webp")
	seedImage(t, store, 2, 10, "media/images/2/c.webp")

	images, err := store.ListByCharacter(ctx, 1)
	if err != nil {
		t.Fatalf("ListByCharacter returned error: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("ListByCharacter(1) returned %d images, want 2", len(images))
	}
	for _, image := range images {
		if image.CharacterID != 1 {
			t.Fatalf("ListByCharacter(1) leaked image of character %d", image.CharacterID)
		}
	}
}

func TestDeleteImageUnlinksDerived(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	source := seedImage(t, store, 1, 10, "media/images/1/source.webp")

	variation := seedImage(t, store, 1, 10, "media/images/1/variation.webp")
	if err := store.db.Model(&CharacterImage{}).
		Where("id = ?", variation.ID).
		Update("source_image_id", source.ID).Error; err != nil {
		t.Fatalf("link variation: %v", err)
	}
	if err := store.db.Exec(
		"INSERT INTO character_videos (id, source_image_id) VALUES (1, ?)", source.ID,
	).Error; err != nil {
		t.Fatalf("seed video row: %v", err)
	}
	if err := store.db.Exec(
		"INSERT INTO characters (id, thumbnail_image_id) VALUES (1, ?)", source.ID,
	).Error; err != nil {
		t.Fatalf("seed character row: %v", err)
	}

	objectKey, err := store.Delete(ctx, source.ID)
	if err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if objectKey != "media/images/1/source.webp" {
		t.Fatalf("Delete returned object key %q", objectKey)
	}

	if _, err := store.FindByID(ctx, source.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("source image still present: %v", err)
	}

	survivor, err := store.FindByID(ctx, variation.ID)
	if err != nil {
		t.Fatalf("variation lookup failed: %v", err)
	}
	if survivor.SourceImageID != nil {
		t.Fatalf("variation still references deleted source: %v", *survivor.SourceImageID)
	}

	var videoRef *uint64
	if err := store.db.Raw("SELECT source_image_id FROM character_videos WHERE id = 1").Scan(&videoRef).Error; err != nil {
		t.Fatalf("read video row: %v", err)
	}
	if videoRef != nil {
		t.Fatalf("video still references deleted source: %v", *videoRef)
	}

	var thumbnailRef *uint64
	if err := store.db.Raw("SELECT thumbnail_image_id FROM characters WHERE id = 1").Scan(&thumbnailRef).Error; err != nil {
		t.Fatalf("read character row: %v", err)
	}
	if thumbnailRef != nil {
		t.Fatalf("character thumbnail still references deleted source: %v", *thumbnailRef)
	}
}

func TestDeleteImageNotFound(t *testing.T) {
	store := testStore(t)

	if _, err := store.Delete(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete error = %v, want ErrNotFound", err)
	}
}

package images

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"animealchemist_back/apperrors"
	"animealchemist_back/characters"
	"animealchemist_back/replicate"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestResolveAspectRatio(t *testing.T) {
	cases := []struct {
		name       string
		in         string
		wantAspect string
		wantWidth  int
		wantHeight int
		wantErr    bool
	}{
		{name: "landscape", in: "16:9", wantAspect: "16:9", wantWidth: 1344, wantHeight: 768},
		{name: "square", in: "1:1", wantAspect: "1:1", wantWidth: 1024, wantHeight: 1024},
		{name: "portrait", in: "9:16", wantAspect: "9:16", wantWidth: 768, wantHeight: 1344},
		{name: "empty falls back to square", in: "", wantAspect: "1:1", wantWidth: 1024, wantHeight: 1024},
		{name: "whitespace falls back", in: "   ", wantAspect: "1:1", wantWidth: 1024, wantHeight: 1024},
		{name: "unsupported", in: "4:3", wantErr: true},
		{name: "garbage", in: "wide", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			aspect, width, height, err := resolveAspectRatio(tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidAspectRatio) {
					t.Fatalf("resolveAspectRatio(%q) error = %v, want ErrInvalidAspectRatio", tc.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveAspectRatio(%q) returned error: %v", tc.in, err)
			}
			if aspect != tc.wantAspect || width != tc.wantWidth || height != tc.wantHeight {
				t.Fatalf("resolveAspectRatio(%q) = %q/%dx%d, want %q/%dx%d",
					tc.in, aspect, width, height, tc.wantAspect, tc.wantWidth, tc.wantHeight)
			}
		})
	}
}

func TestWrapGenerationErrorKeepsCode(t *testing.T) {
	wrapped := wrapGenerationError(errors.New("upstream exploded"))

	coded, ok := apperrors.From(wrapped)
	if !ok {
		t.Fatalf("wrapped error %v does not carry a coded error", wrapped)
	}
	if coded.Code != "GENERATION_FAILED" {
		t.Fatalf("code = %q, want GENERATION_FAILED", coded.Code)
	}

	if wrapGenerationError(nil) != nil {
		t.Fatal("wrapGenerationError(nil) should be nil")
	}
}

// fakeMedia 以内存 map 顶替对象存储,记录写入与删除。
type fakeMedia struct {
	saved   map[string][]byte
	removed []string
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{saved: map[string][]byte{}}
}

func (f *fakeMedia) Save(_ context.Context, data []byte, _ string, pathSegments ...string) (string, error) {
	key := strings.Join(pathSegments, "/") + fmt.Sprintf("/blob-%d.webp", len(f.saved)+len(f.removed))
	f.saved[key] = data
	return key, nil
}

func (f *fakeMedia) URL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://media.test/" + objectKey, nil
}

func (f *fakeMedia) Remove(_ context.Context, objectKey string) error {
	f.removed = append(f.removed, objectKey)
	delete(f.saved, objectKey)
	return nil
}

// predictionServer 模拟生成服务:预测端点返回 status,文件端点返回图片字节。
func predictionServer(t *testing.T, status, errMsg string) *httptest.Server {
	t.Helper()

	var server *httptest.Server
	mux := http.NewServeMux()
	handlePrediction := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if errMsg != "" {
			fmt.Fprintf(w, `{"id":"p1","status":%q,"error":%q}`, status, errMsg)
			return
		}
		fmt.Fprintf(w, `{"id":"p1","status":%q,"output":%q}`, status, server.URL+"/files/out.webp")
	}
	mux.HandleFunc("/models/"+text2ImgModel+"/predictions", handlePrediction)
	mux.HandleFunc("/predictions", handlePrediction)
	mux.HandleFunc("/files/out.webp", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/webp")
		_, _ = w.Write([]byte("webp-bytes"))
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testModule(t *testing.T, baseURL string) (*Module, *fakeMedia, *gorm.DB) {
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

	media := newFakeMedia()
	module := &Module{
		db:            db,
		store:         NewImageStore(db),
		media:         media,
		replicateOpts: []replicate.Option{replicate.WithBaseURL(baseURL)},
	}
	return module, media, db
}

func testCharacter() *characters.Character {
	return &characters.Character{
		ID:          1,
		UserID:      7,
		Name:        "Mika",
		Slug:        "mika",
		Personality: "calm and collected",
		Appearance:  "short dark hair",
	}
}

func TestGenerateImageFailureLeavesNothing(t *testing.T) {
	server := predictionServer(t, "failed", "NSFW content detected")
	module, media, db := testModule(t, server.URL)

	_, err := module.generateImage(context.Background(), "r8_test", testCharacter(), "smiling", "1:1", false)
	if err == nil {
		t.Fatal("generateImage should fail when the prediction fails")
	}
	coded, ok := apperrors.From(err)
	if !ok || coded.Code != "GENERATION_FAILED" {
		t.Fatalf("error = %v, want GENERATION_FAILED", err)
	}

	var count int64
	if err := db.Model(&CharacterImage{}).Count(&count).Error; err != nil {
		t.Fatalf("count images: %v", err)
	}
	if count != 0 {
		t.Fatalf("image rows = %d, want 0", count)
	}
	if len(media.saved) != 0 {
		t.Fatalf("media objects = %d, want 0", len(media.saved))
	}
}

func TestGenerateImageStoreFailureRemovesBlob(t *testing.T) {
	server := predictionServer(t, "succeeded", "")
	module, media, db := testModule(t, server.URL)

	// 落库前撤掉表,迫使 Create 失败。
	if err := db.Exec("DROP TABLE character_images").Error; err != nil {
		t.Fatalf("drop table: %v", err)
	}

	_, err := module.generateImage(context.Background(), "r8_test", testCharacter(), "smiling", "1:1", false)
	if err == nil {
		t.Fatal("generateImage should fail when the insert fails")
	}

	if len(media.saved) != 0 {
		t.Fatalf("media objects left behind: %v", media.saved)
	}
	if len(media.removed) != 1 {
		t.Fatalf("removed objects = %v, want exactly one", media.removed)
	}
}

func TestGenerateImageRecordsGenerationType(t *testing.T) {
	cases := []struct {
		name    string
		initial bool
		want    string
	}{
		{name: "initial image", initial: true, want: "initial"},
		{name: "regular text2img", initial: false, want: "text2img"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := predictionServer(t, "succeeded", "")
			module, _, db := testModule(t, server.URL)

			image, err := module.generateImage(context.Background(), "r8_test", testCharacter(), "smiling", "16:9", tc.initial)
			if err != nil {
				t.Fatalf("generateImage: %v", err)
			}
			if image.GenerationType != tc.want {
				t.Fatalf("generation type = %q, want %q", image.GenerationType, tc.want)
			}
			if image.Strength != nil {
				t.Fatalf("strength = %v, want nil for text2img", *image.Strength)
			}

			var stored CharacterImage
			if err := db.First(&stored, image.ID).Error; err != nil {
				t.Fatalf("load stored image: %v", err)
			}
			if stored.GenerationType != tc.want {
				t.Fatalf("stored generation type = %q, want %q", stored.GenerationType, tc.want)
			}
		})
	}
}

func TestGenerateVariationRecordsStrength(t *testing.T) {
	server := predictionServer(t, "succeeded", "")
	module, _, db := testModule(t, server.URL)

	source := &CharacterImage{
		CharacterID: 1,
		UserID:      7,
		ObjectKey:   "images/1/source.webp",
		Prompt:      "short dark hair",
		AspectRatio: "1:1",
		Width:       1024,
		Height:      1024,
		ModelID:     text2ImgModelID,
	}
	if err := module.store.Create(context.Background(), source); err != nil {
		t.Fatalf("seed source image: %v", err)
	}

	image, err := module.generateVariation(context.Background(), "r8_test", testCharacter(), source, "laughing", 0)
	if err != nil {
		t.Fatalf("generateVariation: %v", err)
	}

	if image.GenerationType != "img2img" {
		t.Fatalf("generation type = %q, want img2img", image.GenerationType)
	}
	if image.Strength == nil || *image.Strength != defaultStrength {
		t.Fatalf("strength = %v, want %v", image.Strength, defaultStrength)
	}
	if image.SourceImageID == nil || *image.SourceImageID != source.ID {
		t.Fatalf("source image id = %v, want %d", image.SourceImageID, source.ID)
	}

	var stored CharacterImage
	if err := db.First(&stored, image.ID).Error; err != nil {
		t.Fatalf("load stored image: %v", err)
	}
	if stored.Strength == nil || *stored.Strength != defaultStrength {
		t.Fatalf("stored strength = %v, want %v", stored.Strength, defaultStrength)
	}
}

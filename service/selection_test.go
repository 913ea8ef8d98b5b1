package service

import (
	"errors"
	"testing"

	"ScriptToVideo-server/models"
)

func TestSelectImage(t *testing.T) {
	db := newTestDB(t)
	p := seedProject(t, db, models.ProjectStatusImagesReady)
	scene := seedScene(t, db, p.ID, 1)
	img1 := seedImage(t, db, scene.ID, "http://minio/img1.png")
	img2 := seedImage(t, db, scene.ID, "http://minio/img2.png")

	if _, err := SelectImage(db, img1.ID); err != nil {
		t.Fatalf("选中 img1 失败: %v", err)
	}
	if _, err := SelectImage(db, img2.ID); err != nil {
		t.Fatalf("选中 img2 失败: %v", err)
	}

	// 同场景最多一张选中
	images, err := models.GetImagesBySceneID(db, scene.ID)
	if err != nil {
		t.Fatal(err)
	}
	selectedCount := 0
	for _, img := range images {
		if img.IsSelected {
			selectedCount++
			if img.ID != img2.ID {
				t.Errorf("选中的应是 img2, got %s", img.ID)
			}
		}
	}
	if selectedCount != 1 {
		t.Errorf("选中数 = %d, want 1", selectedCount)
	}

	// 场景回引也要指向最新的选中项
	stored, err := models.GetSceneByID(db, scene.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.SelectedImageId != img2.ID {
		t.Errorf("scene.SelectedImageId = %s, want %s", stored.SelectedImageId, img2.ID)
	}
}

func TestSelectImageNotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := SelectImage(db, "no-such-image")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("不存在的图片应返回 ErrNotFound, got %v", err)
	}
}

func TestSelectClip(t *testing.T) {
	db := newTestDB(t)
	p := seedProject(t, db, models.ProjectStatusClipsReady)
	scene := seedScene(t, db, p.ID, 1)
	img := seedImage(t, db, scene.ID, "http://minio/img.png")
	clip1 := seedClip(t, db, scene.ID, img.ID, "http://minio/clip1.mp4")
	clip2 := seedClip(t, db, scene.ID, img.ID, "http://minio/clip2.mp4")

	if _, err := SelectClip(db, clip1.ID); err != nil {
		t.Fatalf("选中 clip1 失败: %v", err)
	}
	if _, err := SelectClip(db, clip2.ID); err != nil {
		t.Fatalf("选中 clip2 失败: %v", err)
	}

	clips, err := models.GetClipsBySceneID(db, scene.ID)
	if err != nil {
		t.Fatal(err)
	}
	selectedCount := 0
	for _, c := range clips {
		if c.IsSelected {
			selectedCount++
		}
	}
	if selectedCount != 1 {
		t.Errorf("选中数 = %d, want 1", selectedCount)
	}

	stored, _ := models.GetSceneByID(db, scene.ID)
	if stored.SelectedClipId != clip2.ID {
		t.Errorf("scene.SelectedClipId = %s, want %s", stored.SelectedClipId, clip2.ID)
	}
}

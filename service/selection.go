package service

import (
	"errors"
	"fmt"
	"time"

	"ScriptToVideo-server/models"

	"gorm.io/gorm"
)

// SelectImage 选中某张生成图。同一事务里完成三步写：
// 清掉同场景兄弟记录的 is_selected、置位目标、更新场景的回引字段。
// 读者要么看到全旧要么看到全新，不会看到中间态。
func SelectImage(db *gorm.DB, imageID string) (*models.GeneratedImage, error) {
	var selected *models.GeneratedImage
	err := db.Transaction(func(tx *gorm.DB) error {
		img, err := models.GetImageByID(tx, imageID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: image %s", ErrNotFound, imageID)
			}
			return err
		}
		if _, err := models.GetSceneByID(tx, img.SceneId); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: scene %s", ErrNotFound, img.SceneId)
			}
			return err
		}

		if err := tx.Model(&models.GeneratedImage{}).
			Where("scene_id = ?", img.SceneId).
			Update("is_selected", false).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.GeneratedImage{}).
			Where("id = ?", imageID).
			Update("is_selected", true).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Scene{}).Where("id = ?", img.SceneId).Updates(map[string]interface{}{
			"selected_image_id": imageID,
			"updated_at":        time.Now(),
		}).Error; err != nil {
			return err
		}
		img.IsSelected = true
		selected = img
		return nil
	})
	if err != nil {
		return nil, err
	}
	return selected, nil
}

// SelectClip 选中某条生成视频，逻辑与 SelectImage 对称
func SelectClip(db *gorm.DB, clipID string) (*models.GeneratedClip, error) {
	var selected *models.GeneratedClip
	err := db.Transaction(func(tx *gorm.DB) error {
		clip, err := models.GetClipByID(tx, clipID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: clip %s", ErrNotFound, clipID)
			}
			return err
		}
		if _, err := models.GetSceneByID(tx, clip.SceneId); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: scene %s", ErrNotFound, clip.SceneId)
			}
			return err
		}

		if err := tx.Model(&models.GeneratedClip{}).
			Where("scene_id = ?", clip.SceneId).
			Update("is_selected", false).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.GeneratedClip{}).
			Where("id = ?", clipID).
			Update("is_selected", true).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Scene{}).Where("id = ?", clip.SceneId).Updates(map[string]interface{}{
			"selected_clip_id": clipID,
			"updated_at":       time.Now(),
		}).Error; err != nil {
			return err
		}
		clip.IsSelected = true
		selected = clip
		return nil
	})
	if err != nil {
		return nil, err
	}
	return selected, nil
}

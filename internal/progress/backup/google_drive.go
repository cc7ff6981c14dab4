package backup

import (
	"context"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	DefaultFolderName = "posecoach-progress-backup"
	folderMimeType    = "application/vnd.google-apps.folder"
)

// GoogleDriveStore keeps backup files in a single Google Drive folder.
type GoogleDriveStore struct {
	service  *drive.Service
	folderId string
}

func NewGoogleDriveStore(ctx context.Context, credentialsJson []byte, folderName string) (*GoogleDriveStore, error) {
	driveService, err := drive.NewService(ctx, option.WithCredentialsJSON(credentialsJson))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve drive client: %w", err)
	}

	s := &GoogleDriveStore{
		service: driveService,
	}

	folderId, err := s.findFolder(ctx, folderName)
	if err != nil {
		return nil, err
	}
	if folderId == "" {
		log.Printf("backups folder %s not found, creating ...", folderName)
		folderId, err = s.createFolder(ctx, folderName)
		if err != nil {
			return nil, fmt.Errorf("create backups folder: %w", err)
		}
		log.Printf("new backups folder created: %s", folderId)
	} else {
		log.Printf("found backups folder ID: %s", folderId)
	}
	s.folderId = folderId

	return s, nil
}

func (s *GoogleDriveStore) findFolder(ctx context.Context, folderName string) (string, error) {
	query := fmt.Sprintf("mimeType = '%s' and trashed = false and name = '%s'", folderMimeType, folderName)
	folders, err := s.service.
		Files.List().
		Q(query).
		Fields("files(id, name)").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("unable to retrieve files: %w", err)
	}

	switch len(folders.Files) {
	case 0:
		return "", nil
	case 1:
		return folders.Files[0].Id, nil
	default:
		log.Warnf("found %d backups folders, will take the first one: %s", len(folders.Files), folders.Files[0].Id)
		return folders.Files[0].Id, nil
	}
}

func (s *GoogleDriveStore) createFolder(ctx context.Context, folderName string) (string, error) {
	folder, err := s.service.
		Files.Create(&drive.File{
			Name:     folderName,
			MimeType: folderMimeType,
		}).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	return folder.Id, nil
}

func (s *GoogleDriveStore) List(ctx context.Context) ([]File, error) {
	query := fmt.Sprintf("'%s' in parents and mimeType != '%s' and trashed = false", s.folderId, folderMimeType)
	res, err := s.service.
		Files.List().
		Q(query).
		Fields("files(id, name, createdTime)").
		OrderBy("createdTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list backup files: %w", err)
	}

	files := make([]File, 0, len(res.Files))
	for _, f := range res.Files {
		files = append(files, File{
			ID:          f.Id,
			Name:        f.Name,
			CreatedTime: f.CreatedTime,
		})
	}
	return files, nil
}

func (s *GoogleDriveStore) Upload(ctx context.Context, name string, content io.Reader) (string, error) {
	f, err := s.service.
		Files.Create(&drive.File{
			Name:     name,
			MimeType: "application/json",
			Parents:  []string{s.folderId},
		}).
		Fields("id").
		Media(content).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return f.Id, nil
}

func (s *GoogleDriveStore) Delete(ctx context.Context, id string) error {
	return s.service.Files.Delete(id).Context(ctx).Do()
}

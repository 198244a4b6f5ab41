// s3.go — бэкенд хранения в S3-совместимом объектном хранилище
// (MinIO, AWS S3, любой S3-совместимый провайдер) через minio-go.
//
// Аутентификация — через инжектируемый credential provider:
// статические ключи или IAM managed identity. Секреты никогда
// не встраиваются в код.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options — параметры создания S3-бэкенда.
type S3Options struct {
	// Endpoint — адрес S3-совместимого хранилища (host:port)
	Endpoint string
	// Bucket — имя bucket для payload и sidecar-документов
	Bucket string
	// UseSSL — использовать TLS при подключении
	UseSSL bool
	// PublicBase — базовый URL для Location (опционально;
	// пустое значение — ссылки вида s3://{bucket}/{key})
	PublicBase string
	// Creds — инжектируемый credential provider.
	// Для managed identity: credentials.NewIAM("").
	// Для статических ключей: credentials.NewStaticV4(ak, sk, "").
	Creds *credentials.Credentials
}

// S3 — бэкенд хранения payload в объектном хранилище.
type S3 struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

// NewS3 создаёт S3-бэкенд и проверяет существование bucket,
// создавая его при необходимости.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  opts.Creds,
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("создание S3-клиента: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("проверка bucket %q: %w", opts.Bucket, mapS3Error(err))
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("создание bucket %q: %w", opts.Bucket, mapS3Error(err))
		}
	}

	return &S3{
		client:     client,
		bucket:     opts.Bucket,
		publicBase: strings.TrimRight(opts.PublicBase, "/"),
	}, nil
}

// Put записывает данные из r в объект key.
func (s *S3) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if !ValidKey(key) {
		return fmt.Errorf("put %q: %w", key, ErrInvalidKey)
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put объекта %s: %w", key, mapS3Error(err))
	}
	return nil
}

// Get открывает объект для чтения. StatObject выполняется до
// GetObject, чтобы отсутствующий ключ давал ErrNotFound сразу,
// а не при первом чтении. Возвращаемый *minio.Object поддерживает
// Seek для http.ServeContent.
func (s *S3) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if !ValidKey(key) {
		return nil, fmt.Errorf("get %q: %w", key, ErrInvalidKey)
	}

	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		return nil, fmt.Errorf("stat объекта %s: %w", key, mapS3Error(err))
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get объекта %s: %w", key, mapS3Error(err))
	}
	return obj, nil
}

// Exists проверяет существование объекта через StatObject.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	if !ValidKey(key) {
		return false, fmt.Errorf("exists %q: %w", key, ErrInvalidKey)
	}

	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}

	mapped := mapS3Error(err)
	if errors.Is(mapped, ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("stat объекта %s: %w", key, mapped)
}

// Delete удаляет объект. S3 RemoveObject идемпотентен:
// удаление отсутствующего ключа не является ошибкой.
func (s *S3) Delete(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("delete %q: %w", key, ErrInvalidKey)
	}

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		mapped := mapS3Error(err)
		if errors.Is(mapped, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("удаление объекта %s: %w", key, mapped)
	}
	return nil
}

// ListKeys возвращает все ключи bucket.
func (s *S3) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("листинг bucket %s: %w", s.bucket, mapS3Error(obj.Err))
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Location возвращает URL объекта: {public_base}/{key} или
// s3://{bucket}/{key} если public base не настроен.
func (s *S3) Location(key string) string {
	if s.publicBase != "" {
		return s.publicBase + "/" + key
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

// Size возвращает размер объекта.
// Используется reconciliation для проверки целостности.
func (s *S3) Size(ctx context.Context, key string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("stat объекта %s: %w", key, mapS3Error(err))
	}
	return info.Size, nil
}

// mapS3Error приводит ошибки minio-go к таксономии пакета.
func mapS3Error(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return fmt.Errorf("%w: %s", ErrNotFound, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("%w: %s", ErrPermissionDenied, err)
	case "XMinioObjectTampered":
		return fmt.Errorf("%w: %s", ErrCorrupt, err)
	}

	if resp.StatusCode == 404 {
		return fmt.Errorf("%w: %s", ErrNotFound, err)
	}
	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, err)
	}

	return fmt.Errorf("%w: %s", ErrUnavailable, err)
}

// Проверка соответствия интерфейсу на этапе компиляции
var _ Backend = (*S3)(nil)

// StaticCredentials возвращает provider статических ключей.
func StaticCredentials(accessKey, secretKey string) *credentials.Credentials {
	return credentials.NewStaticV4(accessKey, secretKey, "")
}

// IAMCredentials возвращает provider managed identity (IAM role /
// instance profile). Эндпоинт метаданных определяется автоматически.
func IAMCredentials() *credentials.Credentials {
	return credentials.NewIAM("")
}

// Package storage提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"zhiku-rag/internal/config"
	"zhiku-rag/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// 对象命名前缀: 上传的原始文件与抽取产物分别放在两个目录下。
const (
	RawPrefix       = "raw/"
	ExtractedPrefix = "extracted/"
)

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	// 1. 初始化 MinIO 客户端
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	// 2. 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		err = MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

// RawObjectName 返回原始文档在桶内的对象名。
func RawObjectName(documentName string) string {
	return RawPrefix + documentName
}

// ExtractedObjectName 返回抽取产物在桶内的对象名, 与原始文档同名加 .json 后缀。
func ExtractedObjectName(documentName string) string {
	return ExtractedPrefix + documentName + ".json"
}

// PutObject 将数据流写入指定对象, 已存在的同名对象会被覆盖。
func PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, size int64, contentType string) error {
	_, err := MinioClient.PutObject(ctx, bucketName, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("写入对象 %s 失败: %w", objectName, err)
	}
	return nil
}

// GetObject 读取指定对象的完整内容。
func GetObject(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	obj, err := MinioClient.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s 失败: %w", objectName, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s 内容失败: %w", objectName, err)
	}
	return data, nil
}

// StatObject 查询对象元信息, 对象不存在时返回错误。
func StatObject(ctx context.Context, bucketName, objectName string) (minio.ObjectInfo, error) {
	info, err := MinioClient.StatObject(ctx, bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		return minio.ObjectInfo{}, fmt.Errorf("对象 %s 不存在或不可访问: %w", objectName, err)
	}
	return info, nil
}

// RemoveObject 删除指定对象, 对象不存在时视为成功。
func RemoveObject(ctx context.Context, bucketName, objectName string) error {
	if err := MinioClient.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除对象 %s 失败: %w", objectName, err)
	}
	return nil
}

// GetPresignedURL generates a presigned URL for a given object.
func GetPresignedURL(bucketName, objectName string, expiry time.Duration) (string, error) {
	presignedURL, err := MinioClient.PresignedGetObject(context.Background(), bucketName, objectName, expiry, nil)
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return presignedURL.String(), nil
}

// BucketStore 将对象操作绑定到单个存储桶, 以实例方法暴露,
// 供服务与流水线按各自声明的窄接口注入。
type BucketStore struct {
	bucket string
}

// NewBucketStore 返回绑定到指定存储桶的 BucketStore, 底层使用全局 MinIO 客户端。
func NewBucketStore(bucket string) *BucketStore {
	return &BucketStore{bucket: bucket}
}

// Put 写入对象内容。
func (s *BucketStore) Put(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	return PutObject(ctx, s.bucket, objectName, reader, size, contentType)
}

// Get 读取对象完整内容。
func (s *BucketStore) Get(ctx context.Context, objectName string) ([]byte, error) {
	return GetObject(ctx, s.bucket, objectName)
}

// Stat 返回对象大小, 对象不存在时返回错误。
func (s *BucketStore) Stat(ctx context.Context, objectName string) (int64, error) {
	info, err := StatObject(ctx, s.bucket, objectName)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// Remove 删除对象。
func (s *BucketStore) Remove(ctx context.Context, objectName string) error {
	return RemoveObject(ctx, s.bucket, objectName)
}

// PresignedGetURL 为对象生成限时有效的预签名下载链接。
func (s *BucketStore) PresignedGetURL(objectName string, expiry time.Duration) (string, error) {
	return GetPresignedURL(s.bucket, objectName, expiry)
}

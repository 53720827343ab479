// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"helpdesk-smart-go/internal/config"
	"helpdesk-smart-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

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

// ArtifactStore 定义了模型产物的留存操作。
// 重训练产生的模型文件必须可按版本号寻址，以便原则上支持回滚。
type ArtifactStore interface {
	// Save 将产物流写入存储并返回对象名。
	Save(ctx context.Context, version string, r io.Reader) (string, error)
	// PresignedURL 为指定对象生成限时下载链接。
	PresignedURL(objectName string, expiry time.Duration) (string, error)
}

// minioArtifactStore 是 ArtifactStore 的 MinIO 实现。
type minioArtifactStore struct {
	bucketName string
}

// NewArtifactStore 创建一个基于全局 MinIO 客户端的 ArtifactStore。
func NewArtifactStore(cfg config.MinIOConfig) ArtifactStore {
	return &minioArtifactStore{bucketName: cfg.BucketName}
}

// Save 将模型产物上传为 models/<version>.bin。
func (s *minioArtifactStore) Save(ctx context.Context, version string, r io.Reader) (string, error) {
	objectName := fmt.Sprintf("models/%s.bin", version)
	// 大小未知，传 -1 让 MinIO 以分片方式上传
	_, err := MinioClient.PutObject(ctx, s.bucketName, objectName, r, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		log.Errorf("[ArtifactStore] 上传模型产物失败, object: %s, error: %v", objectName, err)
		return "", fmt.Errorf("上传模型产物失败: %w", err)
	}
	log.Infof("[ArtifactStore] 模型产物已留存, object: %s", objectName)
	return objectName, nil
}

// PresignedURL generates a presigned URL for a given object.
func (s *minioArtifactStore) PresignedURL(objectName string, expiry time.Duration) (string, error) {
	presignedURL, err := MinioClient.PresignedGetObject(context.Background(), s.bucketName, objectName, expiry, nil)
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return presignedURL.String(), nil
}

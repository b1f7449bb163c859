// Package media 负责图像生成、图像搜索与 Luma 视频生成。
package media

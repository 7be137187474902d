// rtmpose 按 YAML 任务文件批量执行关键点推理
//
//	rtmpose -config job.yaml [-v]
//
// 每帧结果写入 msgpack 流, 可选保存绘制骨架后的图片与 CSV 耗时记录.
package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/getcharzp/go-pose"
	"github.com/getcharzp/go-pose/internal/config"
	"github.com/getcharzp/go-pose/internal/output"
	"github.com/getcharzp/go-pose/modelhub"
	"github.com/getcharzp/go-pose/profiling"
	"github.com/getcharzp/go-pose/rtmpose"
	"github.com/sirupsen/logrus"
	"github.com/up-zero/gotool/imageutil"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
)

func main() {
	configPath := flag.String("config", "job.yaml", "任务文件路径")
	verbose := flag.Bool("v", false, "输出调试日志")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, log); err != nil {
		log.WithError(err).Error("任务失败")
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, log *logrus.Logger) error {
	job, err := config.Load(configPath)
	if err != nil {
		return err
	}

	job.Model.Logger = log
	if job.Model.RegistryURL != "" {
		job.Model.ModelProvider = &modelhub.Registry{
			BaseURL:  job.Model.RegistryURL,
			CacheDir: job.Model.CacheDir,
			Progress: os.Stderr,
			Logger:   log,
		}
	}

	engine, err := rtmpose.NewEngineContext(ctx, job.Model)
	if err != nil {
		return fmt.Errorf("初始化引擎失败: %w", err)
	}
	defer engine.Destroy()

	if err := os.MkdirAll(job.Output.Dir, 0o755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}
	resultFile, err := os.Create(filepath.Join(job.Output.Dir, job.Output.Results))
	if err != nil {
		return fmt.Errorf("创建结果文件失败: %w", err)
	}
	results := output.NewWriter(resultFile)
	defer results.Close()

	stats := profiling.NewStats(job.Warmup)
	var recorder *profiling.Recorder
	if job.Output.ProfileDir != "" {
		var name string
		recorder, name, err = profiling.CreateRecorder(job.Output.ProfileDir, "rtmpose")
		if err != nil {
			return err
		}
		defer recorder.Close()
		log.WithFields(logrus.Fields{"file": name, "run_id": recorder.RunID()}).Info("记录耗时")
	}

	drawOpts := rtmpose.DefaultDrawOptions()
	drawOpts.Threshold = job.Output.Threshold
	if job.Output.Draw {
		text, err := pose.NewDefaultTextDrawer()
		if err != nil {
			return err
		}
		defer text.Close()
		drawOpts.Text = text
	}

	skipped := 0
	for i, frame := range job.Frames {
		if ctx.Err() != nil {
			log.WithField("frame", i).Warn("任务被中断")
			break
		}
		entry := log.WithFields(logrus.Fields{"frame": i, "image": frame.Image})

		img, err := imageutil.Open(frame.Image)
		if err != nil {
			entry.WithError(err).Warn("读取图片失败, 跳过")
			skipped++
			continue
		}
		res, err := engine.Predict(img, frame.BBoxes())
		if err != nil {
			entry.WithError(err).Warn("推理失败, 跳过")
			skipped++
			continue
		}

		if err := results.Write(output.NewFrameRecord(i, frame.Image, frame.TrackIDs, res)); err != nil {
			return err
		}
		stats.Add(res.Timing)
		if recorder != nil {
			if err := recorder.Record(i, res.Timing); err != nil {
				return err
			}
		}

		if job.Output.Draw {
			drawOpts.Labels = trackLabels(frame.TrackIDs)
			imageutil.Save(drawnPath(job.Output.Dir, frame.Image), rtmpose.DrawPoseResult(img, res, drawOpts), job.Output.Quality)
		}
		entry.WithFields(logrus.Fields{"boxes": res.Len(), "total": res.Timing.Total}).Debug("完成")
	}

	log.WithFields(logrus.Fields{
		"frames":  results.Count(),
		"skipped": skipped,
		"output":  job.Output.Dir,
	}).Info("任务完成")
	stats.Log(log)
	return nil
}

// drawnPath 绘制结果的保存路径: <dir>/<原文件名>_pose.jpg
func drawnPath(dir, image string) string {
	base := filepath.Base(image)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+"_pose.jpg")
}

func trackLabels(ids []int) []string {
	labels := make([]string, len(ids))
	for i, id := range ids {
		labels[i] = fmt.Sprintf("id %d", id)
	}
	return labels
}

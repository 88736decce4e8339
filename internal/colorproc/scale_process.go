package colorproc

import (
	"github.com/wyatt8740/glc-sub000/internal/envelope"
	"github.com/wyatt8740/glc-sub000/internal/pipeline"
)

var _ pipeline.Stage = (*Stage)(nil)

func pixelBytes(info envelope.VideoInfo, w, h int) int {
	switch info.Format {
	case envelope.PixelBGR:
		return w * h * 3
	case envelope.PixelBGRA:
		return w * h * 4
	case envelope.PixelYCbCr:
		return w*h + 2*((w/2)*(h/2))
	default:
		return w * h * 4
	}
}

func (s *Stage) OnHeader(st *pipeline.State) {
	switch st.Tag {
	case envelope.TagVideoInfo:
		st.WriteSize = envelope.VideoInfoSize
	case envelope.TagVideo:
		st.Flags |= pipeline.FlagUnknownFinalSize
		// Placeholder only: the real reservation depends on this frame's
		// own stream id, which isn't known until OnRead parses the
		// payload below. OnRead always tightens this to the true size
		// (or falls back to FlagCopy, which ignores WriteSize) before
		// the DMA region is reserved, so a stale or concurrently-updated
		// value here can never reach the allocator.
		st.WriteSize = envelope.VideoDataSize + st.ReadSize
	default:
		st.Flags |= pipeline.FlagCopy
	}
}

func (s *Stage) OnRead(st *pipeline.State) {
	switch st.Tag {
	case envelope.TagVideoInfo:
		info, err := envelope.UnmarshalVideoInfo(st.ReadData)
		if err != nil {
			st.Flags |= pipeline.FlagCopy
			return
		}
		plan := s.planFor(info)

		scaled := info
		scaled.Width = uint32(plan.outW)
		scaled.Height = uint32(plan.outH)
		st.WorkerData = scaled

	case envelope.TagVideo:
		hdr, err := envelope.UnmarshalVideoData(st.ReadData)
		if err != nil {
			st.Flags |= pipeline.FlagCopy
			return
		}
		plan := s.stateFor(hdr.ID)
		if plan == nil {
			// No format seen yet for this id: pass the frame through
			// unscaled rather than drop it.
			st.Flags |= pipeline.FlagCopy
			return
		}
		st.WorkerData = scaleJob{hdr: hdr, plan: plan, src: st.ReadData[envelope.VideoDataSize:]}
		// Reserve from this frame's own resolved plan, not a process-wide
		// max that another stream's OnRead might not have updated yet.
		st.WriteSize = envelope.VideoDataSize + pixelBytes(plan.info, plan.outW, plan.outH)
	}
}

type scaleJob struct {
	hdr  envelope.VideoData
	plan *streamScaleState
	src  []byte
}

func (s *Stage) OnWrite(st *pipeline.State) {
	if info, ok := st.WorkerData.(envelope.VideoInfo); ok {
		info.Marshal(st.WriteData)
		return
	}

	job, ok := st.WorkerData.(scaleJob)
	if !ok {
		return
	}
	job.hdr.Marshal(st.WriteData[:envelope.VideoDataSize])
	dstPix := st.WriteData[envelope.VideoDataSize:]

	switch job.plan.info.Format {
	case envelope.PixelYCbCr:
		scaleYCbCr(job.src, dstPix, job.plan)
	default:
		bpp := 3
		if job.plan.info.Format == envelope.PixelBGRA {
			bpp = 4
		}
		scalePacked(job.src, dstPix, job.plan, bpp)
	}

	finalLen := envelope.VideoDataSize + pixelBytes(job.plan.info, job.plan.outW, job.plan.outH)
	st.WriteData = st.WriteData[:finalLen]
}

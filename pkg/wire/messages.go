package wire

import "github.com/cuemby/stepd/pkg/frame"

// AttachKeySize is the fixed size of the credential signature carried by
// an ATTACH request.
const AttachKeySize = 32

// StateReply answers STATE.
type StateReply struct {
	State uint32
}

func (r StateReply) WriteTo(w *frame.Writer) error { return w.WriteUint32(r.State) }
func ReadStateReply(r *frame.Reader) (StateReply, error) {
	v, err := r.ReadUint32()
	return StateReply{State: v}, err
}

// InfoReply answers INFO.
type InfoReply struct {
	UID             uint32
	JobID           uint32
	StepID          uint32
	ProtocolVersion uint32
	NodeID          uint32
	JobMem          uint64
	StepMem         uint64
}

func (r InfoReply) WriteTo(w *frame.Writer) error {
	for _, v := range []uint32{r.UID, r.JobID, r.StepID, r.ProtocolVersion, r.NodeID} {
		if err := w.WriteUint32(v); err != nil {
			return err
		}
	}
	if err := w.WriteUint64(r.JobMem); err != nil {
		return err
	}
	return w.WriteUint64(r.StepMem)
}

func ReadInfoReply(r *frame.Reader) (InfoReply, error) {
	var out InfoReply
	var err error
	if out.UID, err = r.ReadUint32(); err != nil {
		return out, err
	}
	if out.JobID, err = r.ReadUint32(); err != nil {
		return out, err
	}
	if out.StepID, err = r.ReadUint32(); err != nil {
		return out, err
	}
	if out.ProtocolVersion, err = r.ReadUint32(); err != nil {
		return out, err
	}
	if out.NodeID, err = r.ReadUint32(); err != nil {
		return out, err
	}
	if out.JobMem, err = r.ReadUint64(); err != nil {
		return out, err
	}
	out.StepMem, err = r.ReadUint64()
	return out, err
}

// MemLimitsReply answers MEM_LIMITS.
type MemLimitsReply struct {
	JobMem  uint64
	StepMem uint64
}

func (r MemLimitsReply) WriteTo(w *frame.Writer) error {
	if err := w.WriteUint64(r.JobMem); err != nil {
		return err
	}
	return w.WriteUint64(r.StepMem)
}

func ReadMemLimitsReply(r *frame.Reader) (MemLimitsReply, error) {
	var out MemLimitsReply
	var err error
	if out.JobMem, err = r.ReadUint64(); err != nil {
		return out, err
	}
	out.StepMem, err = r.ReadUint64()
	return out, err
}

// UIDReply answers UID.
type UIDReply struct{ UID uint32 }

func (r UIDReply) WriteTo(w *frame.Writer) error { return w.WriteUint32(r.UID) }
func ReadUIDReply(r *frame.Reader) (UIDReply, error) {
	v, err := r.ReadUint32()
	return UIDReply{UID: v}, err
}

// NodeIDReply answers NODEID.
type NodeIDReply struct{ NodeID uint32 }

func (r NodeIDReply) WriteTo(w *frame.Writer) error { return w.WriteUint32(r.NodeID) }
func ReadNodeIDReply(r *frame.Reader) (NodeIDReply, error) {
	v, err := r.ReadUint32()
	return NodeIDReply{NodeID: v}, err
}

// DaemonPidReply answers DAEMON_PID.
type DaemonPidReply struct{ Pid int32 }

func (r DaemonPidReply) WriteTo(w *frame.Writer) error { return w.WriteInt32(r.Pid) }
func ReadDaemonPidReply(r *frame.Reader) (DaemonPidReply, error) {
	v, err := r.ReadInt32()
	return DaemonPidReply{Pid: v}, err
}

// SignalContainerRequest is the SIGNAL_CONTAINER payload.
type SignalContainerRequest struct {
	Signal       Signal
	Flags        int32
	RequestorUID uint32
}

func (req SignalContainerRequest) WriteTo(w *frame.Writer) error {
	if err := w.WriteInt32(int32(req.Signal)); err != nil {
		return err
	}
	if err := w.WriteInt32(req.Flags); err != nil {
		return err
	}
	return w.WriteUint32(req.RequestorUID)
}

func ReadSignalContainerRequest(r *frame.Reader) (SignalContainerRequest, error) {
	var out SignalContainerRequest
	sig, err := r.ReadInt32()
	if err != nil {
		return out, err
	}
	out.Signal = Signal(sig)
	if out.Flags, err = r.ReadInt32(); err != nil {
		return out, err
	}
	out.RequestorUID, err = r.ReadUint32()
	return out, err
}

// JobNotifyRequest is the JOB_NOTIFY payload.
type JobNotifyRequest struct{ Message string }

func (req JobNotifyRequest) WriteTo(w *frame.Writer) error { return w.WriteString(req.Message) }
func ReadJobNotifyRequest(r *frame.Reader) (JobNotifyRequest, error) {
	s, err := r.ReadString()
	return JobNotifyRequest{Message: s}, err
}

// JobNotifyReply answers JOB_NOTIFY.
type JobNotifyReply struct{ RC int32 }

func (r JobNotifyReply) WriteTo(w *frame.Writer) error { return w.WriteInt32(r.RC) }
func ReadJobNotifyReply(r *frame.Reader) (JobNotifyReply, error) {
	v, err := r.ReadInt32()
	return JobNotifyReply{RC: v}, err
}

// SuspendPhase0Request is the first phase of STEP_SUSPEND/STEP_RESUME.
type SuspendPhase0Request struct{ CoreSpec uint16 }

func (req SuspendPhase0Request) WriteTo(w *frame.Writer) error { return w.WriteUint16(req.CoreSpec) }
func ReadSuspendPhase0Request(r *frame.Reader) (SuspendPhase0Request, error) {
	v, err := r.ReadUint16()
	return SuspendPhase0Request{CoreSpec: v}, err
}

// CompletionRequest is the STEP_COMPLETION payload.
type CompletionRequest struct {
	First      int32
	Last       int32
	StepRC     int32
	Accounting []byte
}

func (req CompletionRequest) WriteTo(w *frame.Writer) error {
	if err := w.WriteInt32(req.First); err != nil {
		return err
	}
	if err := w.WriteInt32(req.Last); err != nil {
		return err
	}
	if err := w.WriteInt32(req.StepRC); err != nil {
		return err
	}
	return w.WriteBytes(req.Accounting)
}

func ReadCompletionRequest(r *frame.Reader) (CompletionRequest, error) {
	var out CompletionRequest
	var err error
	if out.First, err = r.ReadInt32(); err != nil {
		return out, err
	}
	if out.Last, err = r.ReadInt32(); err != nil {
		return out, err
	}
	if out.StepRC, err = r.ReadInt32(); err != nil {
		return out, err
	}
	out.Accounting, err = r.ReadBytes()
	return out, err
}

// StepStatReply answers STEP_STAT.
type StepStatReply struct {
	Accounting   []byte
	NumLiveTasks int32
}

func (r StepStatReply) WriteTo(w *frame.Writer) error {
	if err := w.WriteBytes(r.Accounting); err != nil {
		return err
	}
	return w.WriteInt32(r.NumLiveTasks)
}

func ReadStepStatReply(r *frame.Reader) (StepStatReply, error) {
	var out StepStatReply
	var err error
	if out.Accounting, err = r.ReadBytes(); err != nil {
		return out, err
	}
	out.NumLiveTasks, err = r.ReadInt32()
	return out, err
}

// TaskInfoEntry describes one task in a STEP_TASK_INFO reply.
type TaskInfoEntry struct {
	LocalID    int32
	GlobalID   uint32
	Pid        int32
	Exited     bool
	ExitStatus int32
}

// TaskInfoReply answers STEP_TASK_INFO.
type TaskInfoReply struct {
	Tasks []TaskInfoEntry
}

func (r TaskInfoReply) WriteTo(w *frame.Writer) error {
	if err := w.WriteUint32(uint32(len(r.Tasks))); err != nil {
		return err
	}
	for _, t := range r.Tasks {
		if err := w.WriteInt32(t.LocalID); err != nil {
			return err
		}
		if err := w.WriteUint32(t.GlobalID); err != nil {
			return err
		}
		if err := w.WriteInt32(t.Pid); err != nil {
			return err
		}
		exited := uint8(0)
		if t.Exited {
			exited = 1
		}
		if err := w.WriteFull([]byte{exited}); err != nil {
			return err
		}
		if err := w.WriteInt32(t.ExitStatus); err != nil {
			return err
		}
	}
	return nil
}

func ReadTaskInfoReply(r *frame.Reader) (TaskInfoReply, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return TaskInfoReply{}, err
	}
	out := TaskInfoReply{Tasks: make([]TaskInfoEntry, 0, n)}
	for i := uint32(0); i < n; i++ {
		var t TaskInfoEntry
		if t.LocalID, err = r.ReadInt32(); err != nil {
			return out, err
		}
		if t.GlobalID, err = r.ReadUint32(); err != nil {
			return out, err
		}
		if t.Pid, err = r.ReadInt32(); err != nil {
			return out, err
		}
		var exited [1]byte
		if err = r.ReadFull(exited[:]); err != nil {
			return out, err
		}
		t.Exited = exited[0] != 0
		if t.ExitStatus, err = r.ReadInt32(); err != nil {
			return out, err
		}
		out.Tasks = append(out.Tasks, t)
	}
	return out, nil
}

// ListPidsReply answers STEP_LIST_PIDS.
type ListPidsReply struct{ Pids []uint32 }

func (r ListPidsReply) WriteTo(w *frame.Writer) error {
	if err := w.WriteUint32(uint32(len(r.Pids))); err != nil {
		return err
	}
	for _, p := range r.Pids {
		if err := w.WriteUint32(p); err != nil {
			return err
		}
	}
	return nil
}

func ReadListPidsReply(r *frame.Reader) (ListPidsReply, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return ListPidsReply{}, err
	}
	out := ListPidsReply{Pids: make([]uint32, 0, n)}
	for i := uint32(0); i < n; i++ {
		p, err := r.ReadUint32()
		if err != nil {
			return out, err
		}
		out.Pids = append(out.Pids, p)
	}
	return out, nil
}

// PidInContainerRequest is the PID_IN_CONTAINER payload.
type PidInContainerRequest struct{ Pid int32 }

func (req PidInContainerRequest) WriteTo(w *frame.Writer) error { return w.WriteInt32(req.Pid) }
func ReadPidInContainerRequest(r *frame.Reader) (PidInContainerRequest, error) {
	v, err := r.ReadInt32()
	return PidInContainerRequest{Pid: v}, err
}

// PidInContainerReply answers PID_IN_CONTAINER.
type PidInContainerReply struct{ In bool }

func (r PidInContainerReply) WriteTo(w *frame.Writer) error {
	v := uint8(0)
	if r.In {
		v = 1
	}
	return w.WriteFull([]byte{v})
}

func ReadPidInContainerReply(r *frame.Reader) (PidInContainerReply, error) {
	var buf [1]byte
	if err := r.ReadFull(buf[:]); err != nil {
		return PidInContainerReply{}, err
	}
	return PidInContainerReply{In: buf[0] != 0}, nil
}

// AddExternPidRequest is the ADD_EXTERN_PID payload.
type AddExternPidRequest struct{ Pid int32 }

func (req AddExternPidRequest) WriteTo(w *frame.Writer) error { return w.WriteInt32(req.Pid) }
func ReadAddExternPidRequest(r *frame.Reader) (AddExternPidRequest, error) {
	v, err := r.ReadInt32()
	return AddExternPidRequest{Pid: v}, err
}

// AddExternPidReply answers ADD_EXTERN_PID.
type AddExternPidReply struct{ RC int32 }

func (r AddExternPidReply) WriteTo(w *frame.Writer) error { return w.WriteInt32(r.RC) }
func ReadAddExternPidReply(r *frame.Reader) (AddExternPidReply, error) {
	v, err := r.ReadInt32()
	return AddExternPidReply{RC: v}, err
}

// X11DisplayReply answers X11_DISPLAY.
type X11DisplayReply struct {
	Display         int32
	XauthorityPath  string
}

func (r X11DisplayReply) WriteTo(w *frame.Writer) error {
	if err := w.WriteInt32(r.Display); err != nil {
		return err
	}
	return w.WriteString(r.XauthorityPath)
}

func ReadX11DisplayReply(r *frame.Reader) (X11DisplayReply, error) {
	var out X11DisplayReply
	var err error
	if out.Display, err = r.ReadInt32(); err != nil {
		return out, err
	}
	out.XauthorityPath, err = r.ReadString()
	return out, err
}

// PwMode selects the filter applied to a GETPW/GETGR request.
type PwMode int32

const (
	MatchAlways       PwMode = 0
	MatchPid          PwMode = 1
	MatchUserAndPid   PwMode = 2
	MatchGroupAndPid  PwMode = 3
)

// GetPwRequest is the GETPW payload.
type GetPwRequest struct {
	Mode PwMode
	UID  uint32
	Name string
	Pid  int32
}

func (req GetPwRequest) WriteTo(w *frame.Writer) error {
	if err := w.WriteInt32(int32(req.Mode)); err != nil {
		return err
	}
	if err := w.WriteUint32(req.UID); err != nil {
		return err
	}
	if err := w.WriteString(req.Name); err != nil {
		return err
	}
	return w.WriteInt32(req.Pid)
}

func ReadGetPwRequest(r *frame.Reader) (GetPwRequest, error) {
	var out GetPwRequest
	mode, err := r.ReadInt32()
	if err != nil {
		return out, err
	}
	out.Mode = PwMode(mode)
	if out.UID, err = r.ReadUint32(); err != nil {
		return out, err
	}
	if out.Name, err = r.ReadString(); err != nil {
		return out, err
	}
	out.Pid, err = r.ReadInt32()
	return out, err
}

// GetPwReply answers GETPW.
type GetPwReply struct {
	Found bool
	Name  string
	UID   uint32
	GID   uint32
	Gecos string
	Dir   string
	Shell string
}

func (r GetPwReply) WriteTo(w *frame.Writer) error {
	found := int32(0)
	if r.Found {
		found = 1
	}
	if err := w.WriteInt32(found); err != nil {
		return err
	}
	if !r.Found {
		return nil
	}
	if err := w.WriteString(r.Name); err != nil {
		return err
	}
	if err := w.WriteString("x"); err != nil { // placeholder password field
		return err
	}
	if err := w.WriteUint32(r.UID); err != nil {
		return err
	}
	if err := w.WriteUint32(r.GID); err != nil {
		return err
	}
	if err := w.WriteString(r.Gecos); err != nil {
		return err
	}
	if err := w.WriteString(r.Dir); err != nil {
		return err
	}
	return w.WriteString(r.Shell)
}

func ReadGetPwReply(r *frame.Reader) (GetPwReply, error) {
	var out GetPwReply
	found, err := r.ReadInt32()
	if err != nil {
		return out, err
	}
	out.Found = found != 0
	if !out.Found {
		return out, nil
	}
	if out.Name, err = r.ReadString(); err != nil {
		return out, err
	}
	if _, err = r.ReadString(); err != nil { // discard placeholder password
		return out, err
	}
	if out.UID, err = r.ReadUint32(); err != nil {
		return out, err
	}
	if out.GID, err = r.ReadUint32(); err != nil {
		return out, err
	}
	if out.Gecos, err = r.ReadString(); err != nil {
		return out, err
	}
	if out.Dir, err = r.ReadString(); err != nil {
		return out, err
	}
	out.Shell, err = r.ReadString()
	return out, err
}

// GetGrRequest is the GETGR payload.
type GetGrRequest struct {
	Mode PwMode
	GID  uint32
	Name string
	Pid  int32
}

func (req GetGrRequest) WriteTo(w *frame.Writer) error {
	if err := w.WriteInt32(int32(req.Mode)); err != nil {
		return err
	}
	if err := w.WriteUint32(req.GID); err != nil {
		return err
	}
	if err := w.WriteString(req.Name); err != nil {
		return err
	}
	return w.WriteInt32(req.Pid)
}

func ReadGetGrRequest(r *frame.Reader) (GetGrRequest, error) {
	var out GetGrRequest
	mode, err := r.ReadInt32()
	if err != nil {
		return out, err
	}
	out.Mode = PwMode(mode)
	if out.GID, err = r.ReadUint32(); err != nil {
		return out, err
	}
	if out.Name, err = r.ReadString(); err != nil {
		return out, err
	}
	out.Pid, err = r.ReadInt32()
	return out, err
}

// GetGrEntry is one group record in a GETGR reply. Each group entry has
// exactly one member: the step owner (spec.md §4.9).
type GetGrEntry struct {
	Name      string
	GID       uint32
	OwnerName string
}

// GetGrReply answers GETGR.
type GetGrReply struct{ Groups []GetGrEntry }

func (r GetGrReply) WriteTo(w *frame.Writer) error {
	if err := w.WriteInt32(int32(len(r.Groups))); err != nil {
		return err
	}
	for _, g := range r.Groups {
		if err := w.WriteString(g.Name); err != nil {
			return err
		}
		if err := w.WriteString("x"); err != nil {
			return err
		}
		if err := w.WriteUint32(g.GID); err != nil {
			return err
		}
		if err := w.WriteString(g.OwnerName); err != nil {
			return err
		}
	}
	return nil
}

func ReadGetGrReply(r *frame.Reader) (GetGrReply, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return GetGrReply{}, err
	}
	out := GetGrReply{Groups: make([]GetGrEntry, 0, n)}
	for i := int32(0); i < n; i++ {
		var g GetGrEntry
		if g.Name, err = r.ReadString(); err != nil {
			return out, err
		}
		if _, err = r.ReadString(); err != nil {
			return out, err
		}
		if g.GID, err = r.ReadUint32(); err != nil {
			return out, err
		}
		if g.OwnerName, err = r.ReadString(); err != nil {
			return out, err
		}
		out.Groups = append(out.Groups, g)
	}
	return out, nil
}

// AttachRequest is the ATTACH payload.
type AttachRequest struct {
	IOAddr          string
	RespAddr        string
	Key             [AttachKeySize]byte
	UID             uint32
	ClientVersion   uint16
}

func (req AttachRequest) WriteTo(w *frame.Writer) error {
	if err := w.WriteString(req.IOAddr); err != nil {
		return err
	}
	if err := w.WriteString(req.RespAddr); err != nil {
		return err
	}
	if err := w.WriteFull(req.Key[:]); err != nil {
		return err
	}
	if err := w.WriteUint32(req.UID); err != nil {
		return err
	}
	return w.WriteUint16(req.ClientVersion)
}

func ReadAttachRequest(r *frame.Reader) (AttachRequest, error) {
	var out AttachRequest
	var err error
	if out.IOAddr, err = r.ReadString(); err != nil {
		return out, err
	}
	if out.RespAddr, err = r.ReadString(); err != nil {
		return out, err
	}
	if err = r.ReadFull(out.Key[:]); err != nil {
		return out, err
	}
	if out.UID, err = r.ReadUint32(); err != nil {
		return out, err
	}
	out.ClientVersion, err = r.ReadUint16()
	return out, err
}

// AttachReply answers ATTACH.
type AttachReply struct {
	RC       int32
	Pids     []uint32
	GTIDs    []uint32
	ExeNames []string
}

func (r AttachReply) WriteTo(w *frame.Writer) error {
	if err := w.WriteInt32(r.RC); err != nil {
		return err
	}
	if r.RC != RCOk {
		return nil
	}
	n := uint32(len(r.Pids))
	if err := w.WriteUint32(n); err != nil {
		return err
	}
	for _, p := range r.Pids {
		if err := w.WriteUint32(p); err != nil {
			return err
		}
	}
	for _, g := range r.GTIDs {
		if err := w.WriteUint32(g); err != nil {
			return err
		}
	}
	for _, name := range r.ExeNames {
		if err := w.WriteString(name); err != nil {
			return err
		}
	}
	return nil
}

func ReadAttachReply(r *frame.Reader) (AttachReply, error) {
	var out AttachReply
	rc, err := r.ReadInt32()
	if err != nil {
		return out, err
	}
	out.RC = rc
	if rc != RCOk {
		return out, nil
	}
	n, err := r.ReadUint32()
	if err != nil {
		return out, err
	}
	out.Pids = make([]uint32, n)
	for i := range out.Pids {
		if out.Pids[i], err = r.ReadUint32(); err != nil {
			return out, err
		}
	}
	out.GTIDs = make([]uint32, n)
	for i := range out.GTIDs {
		if out.GTIDs[i], err = r.ReadUint32(); err != nil {
			return out, err
		}
	}
	out.ExeNames = make([]string, n)
	for i := range out.ExeNames {
		if out.ExeNames[i], err = r.ReadString(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// WriteRCReply writes the common (rc, errno) reply shape.
func WriteRCReply(w *frame.Writer, rep RCReply) error {
	if err := w.WriteInt32(rep.RC); err != nil {
		return err
	}
	return w.WriteInt32(rep.Errno)
}

// ReadRCReply reads the common (rc, errno) reply shape.
func ReadRCReply(r *frame.Reader) (RCReply, error) {
	var out RCReply
	var err error
	if out.RC, err = r.ReadInt32(); err != nil {
		return out, err
	}
	out.Errno, err = r.ReadInt32()
	return out, err
}

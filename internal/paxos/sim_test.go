package paxos

import (
	"math/rand"
	"testing"
)

type simProc struct {
	acc  *Acceptor
	prop *Proposer
	src  *Candidates
}

type envelope struct {
	to  ProcessID
	msg Message
}

// sim runs every process over a shared message pool that drops, duplicates
// and reorders freely.
type sim struct {
	t       *testing.T
	rng     *rand.Rand
	m       *Membership
	procs   map[ProcessID]*simProc
	det     *Detector
	pool    []envelope
	issued  map[ProposalNumber]ProcessID
	promise map[ProcessID]ProposalNumber
}

func newSim(t *testing.T, seed int64, ids ...ProcessID) *sim {
	m := members(t, ids...)
	s := &sim{
		t:       t,
		rng:     rand.New(rand.NewSource(seed)),
		m:       m,
		procs:   make(map[ProcessID]*simProc),
		det:     NewDetector(m),
		issued:  make(map[ProposalNumber]ProcessID),
		promise: make(map[ProcessID]ProposalNumber),
	}
	for _, id := range ids {
		s.procs[id] = &simProc{
			acc:  newAcceptor(t, id, nil),
			prop: newProposer(t, m, id),
			src:  NewCandidates(Command("cmd-" + id)),
		}
	}
	return s
}

func (s *sim) broadcast(msg Message) {
	for _, id := range s.m.IDs() {
		s.pool = append(s.pool, envelope{to: id, msg: msg})
	}
}

func (s *sim) prepare(id ProcessID) {
	prev := s.procs[id].prop.CurrentNumber()
	msg := s.procs[id].prop.Prepare()
	if msg.Number <= prev {
		s.t.Fatalf("%s: number %s not above %s", id, msg.Number, prev)
	}
	if other, dup := s.issued[msg.Number]; dup {
		s.t.Fatalf("%s issued by %s and %s", msg.Number, other, id)
	}
	s.issued[msg.Number] = id
	s.broadcast(msg)
}

func (s *sim) take(keep bool) envelope {
	i := s.rng.Intn(len(s.pool))
	env := s.pool[i]
	if !keep {
		s.pool = append(s.pool[:i], s.pool[i+1:]...)
	}
	return env
}

func (s *sim) deliver(env envelope) {
	p := s.procs[env.to]
	switch m := env.msg.(type) {
	case Prepare:
		resp, ok, err := p.acc.OnPrepare(m)
		if err != nil {
			s.t.Fatal(err)
		}
		if got := p.acc.Record().LastPromise; got < s.promise[env.to] {
			s.t.Fatalf("%s promise went from %s to %s", env.to, s.promise[env.to], got)
		}
		s.promise[env.to] = p.acc.Record().LastPromise
		if ok {
			owner, _ := s.m.Owner(m.Number)
			s.pool = append(s.pool, envelope{to: owner, msg: resp})
		}
	case PrepareResponse:
		if !p.prop.HandlePrepareResponse(m) {
			return
		}
		prior, recovered := HighestAccepted(sortedResponses(p.prop.responses))
		out, err := p.prop.Propose(p.src)
		if err != nil {
			s.t.Fatal(err)
		}
		if recovered && out.Proposal.Command != prior.Command {
			s.t.Fatalf("%s proposed %q over recovered %s", env.to, out.Proposal.Command, prior)
		}
		s.broadcast(out)
	case Propose:
		ok, err := p.acc.OnPropose(m)
		if err != nil {
			s.t.Fatal(err)
		}
		if ok {
			s.det.Accepted(env.to, m.Proposal)
		}
	}
	if chosen := s.det.Chosen(); len(chosen) > 1 {
		s.t.Fatalf("agreement violated: %v", chosen)
	}
}

func TestRandomSchedulesAgree(t *testing.T) {
	ids := []ProcessID{"a", "b", "c", "d", "e"}
	for seed := int64(1); seed <= 40; seed++ {
		s := newSim(t, seed, ids...)
		for step := 0; step < 2000; step++ {
			switch r := s.rng.Intn(10); {
			case r == 0 || len(s.pool) == 0:
				s.prepare(ids[s.rng.Intn(len(ids))])
			case r == 1:
				s.take(false)
			default:
				s.deliver(s.take(s.rng.Intn(5) == 0))
			}
		}

		// favorable scheduling: one proposer outbids everyone, nothing is lost
		var highest ProposalNumber
		for n := range s.issued {
			if n > highest {
				highest = n
			}
		}
		leader := ids[s.rng.Intn(len(ids))]
		s.procs[leader].prop.Observe(highest)
		s.prepare(leader)
		for len(s.pool) > 0 {
			env := s.pool[0]
			s.pool = s.pool[1:]
			s.deliver(env)
		}

		chosen := s.det.Chosen()
		if len(chosen) != 1 {
			t.Fatalf("seed %d: chosen %v after a quiet round", seed, chosen)
		}
		if !s.det.IsChosen(chosen[0]) {
			t.Fatalf("seed %d: %q not chosen at the end of a quiet round", seed, chosen[0])
		}
	}
}

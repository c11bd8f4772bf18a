package event

import "testing"

func TestIDIsDeterministic(t *testing.T) {
	a := E3Requested{E3ID: 7, ChainID: 1, ProgramParams: []byte("p")}
	b := E3Requested{E3ID: 7, ChainID: 1, ProgramParams: []byte("p")}

	idA, err := ID(a)
	if err != nil {
		t.Fatal(err)
	}
	idB, err := ID(b)
	if err != nil {
		t.Fatal(err)
	}
	if idA != idB {
		t.Fatalf("identical events hashed differently: %x != %x", idA, idB)
	}
}

func TestIDDistinguishesKind(t *testing.T) {
	req := E3Requested{E3ID: 1}
	act := E3Activated{E3ID: 1}

	idReq, _ := ID(req)
	idAct, _ := ID(act)
	if idReq == idAct {
		t.Fatal("distinct event kinds with the same numeric id must not collide")
	}
}

func TestUnmarshalRoundTrips(t *testing.T) {
	want := KeyshareGenerated{
		E3ID:        3,
		Member:      Address{9},
		PublicShare: []byte{1, 2, 3},
		Proof:       []byte{4, 5},
	}
	wire, err := Marshal(want)
	if err != nil {
		t.Fatal(err)
	}
	f, err := Unmarshal(want.Kind(), wire[1+len(want.Kind()):])
	if err != nil {
		t.Fatal(err)
	}
	got, ok := f.(KeyshareGenerated)
	if !ok {
		t.Fatalf("got %T, want KeyshareGenerated", f)
	}
	if got.E3ID != want.E3ID || got.Member != want.Member || string(got.PublicShare) != string(want.PublicShare) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestUnmarshalRoundTripsKeyshareFailed(t *testing.T) {
	want := KeyshareFailed{E3ID: 11, Member: Address{2}, Reason: "boom"}
	wire, err := Marshal(want)
	if err != nil {
		t.Fatal(err)
	}
	f, err := Unmarshal(want.Kind(), wire[1+len(want.Kind()):])
	if err != nil {
		t.Fatal(err)
	}
	got, ok := f.(KeyshareFailed)
	if !ok {
		t.Fatalf("got %T, want KeyshareFailed", f)
	}
	if got.E3ID != want.E3ID || got.Member != want.Member || got.Reason != want.Reason {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestUnmarshalUnknownKind(t *testing.T) {
	if _, err := Unmarshal(Kind("bogus"), nil); err == nil {
		t.Fatal("expected an error for an unrecognized kind")
	}
}

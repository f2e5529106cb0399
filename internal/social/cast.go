package social

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
	"github.com/tidwall/gjson"
)

// Cast is the normalized form of a post returned by the API.
type Cast struct {
	Hash       string
	AuthorFID  int64
	ParentHash string
	Viewer     ViewerContext
	LikeFIDs   []int64
	RecastFIDs []int64
	Replies    []Cast
}

// ViewerContext is the per-viewer reaction state. Present is false when the
// response carried no viewer block at all.
type ViewerContext struct {
	Present  bool
	Liked    bool
	Recasted bool
}

// Candidate paths, tried in order. The API has used each of these names.
var (
	castRootPaths    = []string{"cast", "result.cast", "data.cast"}
	hashPaths        = []string{"hash", "cast_hash", "castHash", "id"}
	authorFIDPaths   = []string{"author.fid", "author_fid", "authorFid", "author.id", "fid"}
	parentHashPaths  = []string{"parent_hash", "parentHash", "parent.hash", "parent_cast.hash"}
	viewerPaths      = []string{"viewer_context", "viewerContext"}
	likesPaths       = []string{"reactions.likes", "reactions.like", "likes"}
	recastsPaths     = []string{"reactions.recasts", "reactions.recast", "recasts"}
	inlineReplyPaths = []string{"direct_replies", "directReplies", "replies.casts"}
	actorFIDPaths    = []string{"fid", "user.fid", "user_fid", "actor_fid", "author.fid"}

	castListPaths          = []string{"casts", "result.casts", "data.casts", "messages"}
	conversationReplyPaths = []string{"conversation.cast.direct_replies", "conversation.cast.directReplies", "casts"}
)

var hashPattern = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)

// ExtractHash finds a full cast hash embedded in ref. Truncated short hashes
// used in some share URLs do not match.
func ExtractHash(ref string) (string, bool) {
	m := hashPattern.FindString(ref)
	if m == "" {
		return "", false
	}
	return strings.ToLower(m), true
}

// HashVariants returns h as given, with a 0x prefix and without one. The API
// is inconsistent about which form it accepts and returns.
func HashVariants(h string) []string {
	h = strings.TrimSpace(h)
	if h == "" {
		return nil
	}
	bare := strings.TrimPrefix(strings.ToLower(h), "0x")
	out := make([]string, 0, 3)
	for _, v := range []string{h, "0x" + bare, bare} {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// SameHash compares two hashes across prefix and case variants.
func SameHash(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return domain.NormalizeHash(a) == domain.NormalizeHash(b)
}

func normalizeCastResponse(res gjson.Result) (Cast, error) {
	root := firstExisting(res, castRootPaths...)
	if !root.Exists() {
		root = res
	}

	cast := normalizeCast(root)
	if cast.Hash == "" {
		return Cast{}, fmt.Errorf("%w: response carries no cast hash", domain.ErrNotFound)
	}
	return cast, nil
}

func normalizeCast(v gjson.Result) Cast {
	cast := Cast{
		Hash:       firstExisting(v, hashPaths...).String(),
		ParentHash: firstExisting(v, parentHashPaths...).String(),
		LikeFIDs:   actorFIDs(firstExisting(v, likesPaths...)),
		RecastFIDs: actorFIDs(firstExisting(v, recastsPaths...)),
	}
	cast.AuthorFID, _ = coerceFID(firstExisting(v, authorFIDPaths...))

	if viewer := firstExisting(v, viewerPaths...); viewer.IsObject() {
		cast.Viewer = ViewerContext{
			Present:  true,
			Liked:    viewer.Get("liked").Bool(),
			Recasted: viewer.Get("recasted").Bool(),
		}
	}

	for _, reply := range firstExisting(v, inlineReplyPaths...).Array() {
		if reply.IsObject() {
			cast.Replies = append(cast.Replies, normalizeCast(reply))
		}
	}
	return cast
}

func normalizeCastList(res gjson.Result, paths ...string) []Cast {
	list := firstExisting(res, paths...)
	if !list.IsArray() {
		return nil
	}

	items := list.Array()
	casts := make([]Cast, 0, len(items))
	for _, item := range items {
		if item.IsObject() {
			casts = append(casts, normalizeCast(item))
		}
	}
	return casts
}

// actorFIDs reads a reaction list whose entries are either bare ids or
// objects carrying the actor id under one of several names.
func actorFIDs(list gjson.Result) []int64 {
	if !list.IsArray() {
		return nil
	}

	var fids []int64
	for _, item := range list.Array() {
		candidate := item
		if item.IsObject() {
			candidate = firstExisting(item, actorFIDPaths...)
		}
		if fid, ok := coerceFID(candidate); ok {
			fids = append(fids, fid)
		}
	}
	return fids
}

// coerceFID accepts numeric ids sent either as JSON numbers or strings.
func coerceFID(v gjson.Result) (int64, bool) {
	switch v.Type {
	case gjson.Number, gjson.String:
		fid := v.Int()
		return fid, fid > 0
	default:
		return 0, false
	}
}

func firstExisting(v gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := v.Get(p); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

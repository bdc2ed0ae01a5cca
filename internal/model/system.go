package model

type SystemMessageType string

const (
	SystemUserJoined           SystemMessageType = "user_joined"
	SystemUserLeft             SystemMessageType = "user_left"
	SystemUserRemoved          SystemMessageType = "user_removed"
	SystemUserAdded            SystemMessageType = "user_added"
	SystemGroupCreated         SystemMessageType = "group_created"
	SystemGroupNameChanged     SystemMessageType = "group_name_changed"
	SystemGroupPhotoChanged    SystemMessageType = "group_photo_changed"
	SystemAdminPromoted        SystemMessageType = "admin_promoted"
	SystemAdminDemoted         SystemMessageType = "admin_demoted"
	SystemOwnershipTransferred SystemMessageType = "ownership_transferred"
	SystemInfo                 SystemMessageType = "info"
)

var systemTypes = map[SystemMessageType]struct{}{
	SystemUserJoined: {}, SystemUserLeft: {}, SystemUserRemoved: {}, SystemUserAdded: {},
	SystemGroupCreated: {}, SystemGroupNameChanged: {}, SystemGroupPhotoChanged: {},
	SystemAdminPromoted: {}, SystemAdminDemoted: {}, SystemOwnershipTransferred: {}, SystemInfo: {},
}

func (t SystemMessageType) Valid() bool {
	_, ok := systemTypes[t]
	return ok
}
